package sim

import "github.com/mpapenbr/racesim/pkg/model"

// Tuning holds the physical constants of the simulation.
type Tuning struct {
	BaseAccel        float64 // m/s^2 at full throttle
	Drag             float64 // velocity proportional deceleration (1/s)
	BrakeDecel       float64 // m/s^2 applied whenever brake > 0
	MaxSpeed         float64 // m/s without assists
	DRSAccelFactor   float64
	DRSSpeedBonus    float64 // m/s added to the speed cap
	ERSAccelFactor   float64
	ERSSpeedBonus    float64 // m/s added to the speed cap
	SlipstreamFactor float64
	ERSMinEnergy     float64 // ERS needs strictly more energy than this
	ERSDrainRate     float64 // energy per second while ERS is active
	ERSRegenRate     float64 // energy per second otherwise
	MaxEnergy        float64
}

func DefaultTuning() Tuning {
	return Tuning{
		BaseAccel:        14,
		Drag:             0.18,
		BrakeDecel:       25,
		MaxSpeed:         82,
		DRSAccelFactor:   1.05,
		DRSSpeedBonus:    7,
		ERSAccelFactor:   1.12,
		ERSSpeedBonus:    10,
		SlipstreamFactor: 1.08,
		ERSMinEnergy:     0.05,
		ERSDrainRate:     0.35,
		ERSRegenRate:     0.08,
		MaxEnergy:        model.MaxEnergy,
	}
}
