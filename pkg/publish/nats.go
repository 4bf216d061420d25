package publish

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/racesim/log"
)

type (
	// conn is the part of *nats.Conn used by NatsPublisher
	conn interface {
		Publish(subj string, data []byte) error
		Drain() error
	}
	NatsPublisher struct {
		conn      conn
		l         *log.Logger
		numFailed atomic.Int64
	}
	NatsOption func(*NatsPublisher)

	lifecycleMsg struct {
		LobbyID string `json:"lobbyId"`
	}
)

func WithLogger(l *log.Logger) NatsOption {
	return func(p *NatsPublisher) {
		p.l = l
	}
}

// Connect dials the NATS server at url and returns a publisher using it
func Connect(url string, opts ...NatsOption) (*NatsPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("racesim"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return newNatsPublisher(nc, opts...), nil
}

func newNatsPublisher(c conn, opts ...NatsOption) *NatsPublisher {
	ret := &NatsPublisher{
		conn: c,
		l:    log.Default().Named("racesim.publish"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (p *NatsPublisher) PublishState(ctx context.Context, lobbyID string, payload []byte) {
	p.publish(StateSubject(lobbyID), payload)
}

func (p *NatsPublisher) PublishCreated(ctx context.Context, lobbyID string) {
	p.publishLifecycle(SubjectCreated, lobbyID)
}

func (p *NatsPublisher) PublishRemoved(ctx context.Context, lobbyID string) {
	p.publishLifecycle(SubjectRemoved, lobbyID)
}

// Failed returns the number of messages which could not be published
func (p *NatsPublisher) Failed() int64 {
	return p.numFailed.Load()
}

func (p *NatsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.l.Warn("error draining nats connection", log.ErrorField(err))
	}
}

func (p *NatsPublisher) publishLifecycle(subject, lobbyID string) {
	//nolint:errchkjson // plain struct
	data, _ := json.Marshal(lifecycleMsg{LobbyID: lobbyID})
	p.publish(subject, data)
}

func (p *NatsPublisher) publish(subject string, data []byte) {
	if err := p.conn.Publish(subject, data); err != nil {
		p.numFailed.Add(1)
		p.l.Warn("could not publish",
			log.String("subject", subject),
			log.ErrorField(err))
	}
}
