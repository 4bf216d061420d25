package sim

import (
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/track"
)

// Policy computes the input of a computer controlled car
type Policy interface {
	Decide(car *model.Car, t *track.Track) model.Input
}

type PolicyFunc func(car *model.Car, t *track.Track) model.Input

func (f PolicyFunc) Decide(car *model.Car, t *track.Track) model.Input {
	return f(car, t)
}

// Autopilot drives flat out and uses DRS whenever the track allows it.
// ERS is only deployed inside DRS zones and as long as the energy
// exceeds the reserve.
type Autopilot struct {
	Throttle   float64
	ERSReserve float64
}

var _ Policy = (*Autopilot)(nil)

func NewAutopilot() *Autopilot {
	return &Autopilot{Throttle: 1.0, ERSReserve: 0.4}
}

func (a *Autopilot) Decide(car *model.Car, t *track.Track) model.Input {
	drs := t.DRSAvailable(car.Progress)
	return model.Input{
		Throttle: a.Throttle,
		Brake:    0,
		DRS:      drs,
		ERS:      drs && car.Energy > a.ERSReserve,
	}
}
