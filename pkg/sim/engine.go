package sim

import (
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/track"
)

type (
	Engine struct {
		track  *track.Track
		tuning Tuning
		policy Policy
	}
	Option func(*Engine)
)

func WithTuning(t Tuning) Option {
	return func(e *Engine) {
		e.tuning = t
	}
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

func NewEngine(t *track.Track, opts ...Option) *Engine {
	ret := &Engine{
		track:  t,
		tuning: DefaultTuning(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.policy == nil {
		ret.policy = NewAutopilot()
	}
	return ret
}

func (e *Engine) Track() *track.Track { return e.track }

func (e *Engine) Tuning() Tuning { return e.tuning }

// Advance moves every car by one explicit Euler step of dt seconds.
// Cars are processed in the given order. Each car sees the already
// advanced state of the cars before it.
// inputs is keyed by car id and only consulted for human cars.
func (e *Engine) Advance(cars []*model.Car, inputs map[string]model.Input, dt float64) {
	for _, car := range cars {
		e.step(car, cars, e.resolveInput(car, inputs), dt)
	}
}

func (e *Engine) resolveInput(car *model.Car, inputs map[string]model.Input) model.Input {
	if car.Type == model.CarTypeAI {
		return e.policy.Decide(car, e.track)
	}
	// zero value for cars without registered input
	return inputs[car.ID]
}

func (e *Engine) step(car *model.Car, all []*model.Car, in model.Input, dt float64) {
	tun := &e.tuning

	drsOn := in.DRS && e.track.DRSAvailable(car.Progress)
	ersOn := in.ERS && car.Energy > tun.ERSMinEnergy
	car.DRSActive = drsOn
	car.ERSActive = ersOn

	accel := tun.BaseAccel * in.Throttle * e.slipstreamMultiplier(car, all)
	if drsOn {
		accel *= tun.DRSAccelFactor
	}
	if ersOn {
		accel *= tun.ERSAccelFactor
	}
	if in.Brake > 0 {
		accel -= tun.BrakeDecel
	}
	accel -= car.Velocity * tun.Drag

	car.Velocity = max(0, car.Velocity+accel*dt)
	speedCap := tun.MaxSpeed
	if drsOn {
		speedCap += tun.DRSSpeedBonus
	}
	if ersOn {
		speedCap += tun.ERSSpeedBonus
	}
	car.Velocity = min(car.Velocity, speedCap)

	car.Progress = e.track.Normalize(car.Progress + car.Velocity*dt)

	if ersOn {
		car.Energy = max(0, car.Energy-tun.ERSDrainRate*dt)
	} else {
		car.Energy = min(tun.MaxEnergy, car.Energy+tun.ERSRegenRate*dt)
	}
}

func (e *Engine) slipstreamMultiplier(car *model.Car, all []*model.Car) float64 {
	if InSlipstream(e.track, car, all) {
		return e.tuning.SlipstreamFactor
	}
	return 1.0
}

// InSlipstream reports whether any other car leads car by a forward
// distance strictly between 0 and the track's slipstream range.
func InSlipstream(t *track.Track, car *model.Car, all []*model.Car) bool {
	for _, other := range all {
		if other == car || other.ID == car.ID {
			continue
		}
		d := t.ForwardDistance(car.Progress, other.Progress)
		if d > 0 && d < t.SlipstreamRange() {
			return true
		}
	}
	return false
}
