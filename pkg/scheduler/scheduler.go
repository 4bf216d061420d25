// Package scheduler drives the global simulation cycle.
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/lobby"
	"github.com/mpapenbr/racesim/pkg/publish"
	"github.com/mpapenbr/racesim/pkg/sim"
)

const DefaultPeriod = 100 * time.Millisecond

type (
	Scheduler struct {
		registry     *lobby.Registry
		engine       *sim.Engine
		period       time.Duration
		publisher    publish.Publisher
		now          func() time.Time
		l            *log.Logger
		tickDuration metric.Float64Histogram
		cycles       uint64
	}
	Option func(*Scheduler)
)

func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period = d
		}
	}
}

func WithPublisher(p publish.Publisher) Option {
	return func(s *Scheduler) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		s.l = l
	}
}

func New(registry *lobby.Registry, engine *sim.Engine, opts ...Option) *Scheduler {
	ret := &Scheduler{
		registry:  registry,
		engine:    engine,
		period:    DefaultPeriod,
		publisher: publish.Nop(),
		now:       time.Now,
		l:         log.Default().Named("racesim.scheduler"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

func (s *Scheduler) Period() time.Duration { return s.period }

// Run executes one cycle per period until ctx is done.
// Missed ticks are dropped, each cycle advances the lobbies by exactly one period.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	s.l.Info("scheduler started", log.Duration("period", s.period))
	for {
		select {
		case <-ctx.Done():
			s.l.Info("scheduler stopped", log.Uint64("cycles", s.cycles))
			return
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle steps every lobby once in registration order and mirrors the
// resulting snapshots. Idle lobbies are reaped afterwards.
func (s *Scheduler) Cycle(ctx context.Context) {
	start := time.Now()
	dt := s.period.Seconds()
	lobbies := s.registry.Lobbies()
	for _, l := range lobbies {
		if payload := l.RunTick(s.engine, dt); payload != nil {
			s.publisher.PublishState(ctx, l.ID(), payload)
		}
	}
	s.registry.Reap(s.now())
	s.cycles++

	elapsed := time.Since(start)
	if s.tickDuration != nil {
		s.tickDuration.Record(ctx, elapsed.Seconds())
	}
	if elapsed > s.period {
		s.l.Warn("cycle exceeded period",
			log.Duration("elapsed", elapsed),
			log.Int("lobbies", len(lobbies)))
	}
}

func (s *Scheduler) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("racesim.scheduler")
	var err error
	s.tickDuration, err = meter.Float64Histogram("racesim.scheduler.cycle.duration",
		metric.WithDescription("duration of one simulation cycle"),
		metric.WithUnit("s"))
	if err != nil {
		s.l.Warn("could not create cycle histogram", log.ErrorField(err))
	}
	_, err = meter.Int64ObservableGauge("racesim.lobbies",
		metric.WithDescription("number of active lobbies"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.registry.Len()))
			return nil
		}))
	if err != nil {
		s.l.Warn("could not create lobby gauge", log.ErrorField(err))
	}
}
