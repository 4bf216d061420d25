package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/racesim/log"
)

const defaultBufferSize = 16

// BroadcastServer distributes messages to a dynamic set of subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the message.
type BroadcastServer[T any] interface {
	// Subscribe registers a new subscriber. The initial messages are queued
	// before the subscriber becomes visible to Publish.
	Subscribe(initial ...T) *Subscription[T]
	CancelSubscription(id string)
	Publish(msg T)
	Len() int
	Close()
}

// Subscription is the receiving side of a subscriber.
// Done is closed when the subscription was cancelled or the server was closed.
type Subscription[T any] struct {
	ID   string
	C    <-chan T
	Done <-chan struct{}
}

type (
	subscriber[T any] struct {
		id        string
		ch        chan T
		done      chan struct{}
		closeOnce sync.Once
	}

	broadcastServer[T any] struct {
		name        string
		attrs       []attribute.KeyValue
		bufferSize  int
		l           *log.Logger
		mutex       sync.RWMutex
		subscribers map[string]*subscriber[T]
		closed      bool
		numRcv      atomic.Int64
		numSnd      atomic.Int64
		numSkip     atomic.Int64
		metricsReg  metric.Registration
	}

	Option[T any] func(*broadcastServer[T])
)

func WithBufferSize[T any](size int) Option[T] {
	return func(b *broadcastServer[T]) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithTelemetry adds attributes to the exported broadcast metrics
func WithTelemetry[T any](attrs ...attribute.KeyValue) Option[T] {
	return func(b *broadcastServer[T]) {
		b.attrs = append(b.attrs, attrs...)
	}
}

func WithLogger[T any](l *log.Logger) Option[T] {
	return func(b *broadcastServer[T]) {
		b.l = l
	}
}

func NewBroadcastServer[T any](name string, opts ...Option[T]) BroadcastServer[T] {
	b := &broadcastServer[T]{
		name:        name,
		bufferSize:  defaultBufferSize,
		l:           log.Default().Named("racesim.broadcast"),
		subscribers: make(map[string]*subscriber[T]),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.attrs = append(b.attrs, attribute.String("name", name))
	b.setupMetrics()
	return b
}

func (b *broadcastServer[T]) Subscribe(initial ...T) *Subscription[T] {
	s := &subscriber[T]{
		id:   uuid.NewString(),
		ch:   make(chan T, max(b.bufferSize, len(initial))),
		done: make(chan struct{}),
	}
	for _, msg := range initial {
		s.ch <- msg
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		s.stop()
	} else {
		b.subscribers[s.id] = s
		b.l.Debug("added subscriber",
			log.String("name", b.name),
			log.String("id", s.id),
			log.Int("len", len(b.subscribers)))
	}
	return &Subscription[T]{ID: s.id, C: s.ch, Done: s.done}
}

func (b *broadcastServer[T]) CancelSubscription(id string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if s, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		s.stop()
		b.l.Debug("removed subscriber",
			log.String("name", b.name),
			log.String("id", id),
			log.Int("len", len(b.subscribers)))
	}
}

// Publish delivers msg to a snapshot of the current subscribers.
// Subscribers removed concurrently may or may not receive msg.
func (b *broadcastServer[T]) Publish(msg T) {
	b.mutex.RLock()
	if b.closed {
		b.mutex.RUnlock()
		return
	}
	targets := make([]*subscriber[T], 0, len(b.subscribers))
	for _, s := range b.subscribers {
		targets = append(targets, s)
	}
	b.mutex.RUnlock()

	b.numRcv.Add(1)
	for _, s := range targets {
		select {
		case <-s.done:
			continue
		default:
		}
		select {
		case s.ch <- msg:
			b.numSnd.Add(1)
		default:
			b.numSkip.Add(1)
		}
	}
}

func (b *broadcastServer[T]) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers)
}

func (b *broadcastServer[T]) Close() {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*subscriber[T])
	b.mutex.Unlock()

	for _, s := range subs {
		s.stop()
	}
	// outside the lock: metric collection may be waiting for it
	if b.metricsReg != nil {
		if err := b.metricsReg.Unregister(); err != nil {
			b.l.Warn("could not unregister metrics", log.ErrorField(err))
		}
	}
	b.l.Info("Closed broadcast server",
		log.String("name", b.name),
		log.Int64("rcv", b.numRcv.Load()),
		log.Int64("snd", b.numSnd.Load()),
		log.Int64("skip", b.numSkip.Load()))
}

func (s *subscriber[T]) stop() {
	s.closeOnce.Do(func() { close(s.done) })
}

//nolint:funlen // by design
func (b *broadcastServer[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("racesim.broadcast")
	type data struct {
		name  string
		desc  string
		value func() int64
	}
	items := []data{
		{"racesim.broadcast.rcv", "Number of published messages", b.numRcv.Load},
		{"racesim.broadcast.snd", "Number of delivered messages", b.numSnd.Load},
		{"racesim.broadcast.skip", "Number of skipped messages", b.numSkip.Load},
		{"racesim.broadcast.listener", "Number of subscribers", func() int64 {
			return int64(b.Len())
		}},
	}
	gauges := make([]metric.Int64ObservableGauge, 0, len(items))
	observables := make([]metric.Observable, 0, len(items))
	for _, d := range items {
		g, err := meter.Int64ObservableGauge(d.name,
			metric.WithDescription(d.desc),
			metric.WithUnit("{count}"))
		if err != nil {
			b.l.Error("failed to register metric",
				log.String("metric", d.name),
				log.ErrorField(err))
			return
		}
		gauges = append(gauges, g)
		observables = append(observables, g)
	}
	attrs := metric.WithAttributes(b.attrs...)
	reg, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			for i, g := range gauges {
				o.ObserveInt64(g, items[i].value(), attrs)
			}
			return nil
		}, observables...)
	if err != nil {
		b.l.Error("failed to register metrics callback", log.ErrorField(err))
		return
	}
	b.metricsReg = reg
}
