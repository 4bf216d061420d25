package model

type CarType string

const (
	CarTypeHuman CarType = "human"
	CarTypeAI    CarType = "ai"
)

const MaxEnergy = 4.0

// Car is the simulated state of one participant.
// DRSActive and ERSActive are derived by the simulation on every tick.
type Car struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      CarType `json:"type"`
	Color     string  `json:"color"`
	Progress  float64 `json:"progress"`
	Velocity  float64 `json:"velocity"`
	Energy    float64 `json:"energy"`
	DRSActive bool    `json:"drsActive"`
	ERSActive bool    `json:"ersActive"`
}

// Input holds the control values of a car for one tick
type Input struct {
	Throttle float64 `json:"throttle"`
	Brake    float64 `json:"brake"`
	DRS      bool    `json:"drs"`
	ERS      bool    `json:"ers"`
}

func NewCar(id, name string, carType CarType, color string, progress float64) *Car {
	return &Car{
		ID:       id,
		Name:     name,
		Type:     carType,
		Color:    color,
		Progress: progress,
		Energy:   MaxEnergy,
	}
}
