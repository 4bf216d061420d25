package track

const (
	monzaLength          = 5793
	monzaSlipstreamRange = 35
)

var monzaPoints = []Point{
	{0.52, 0.92},
	{0.55, 0.83},
	{0.57, 0.62},
	{0.56, 0.40},
	{0.47, 0.25},
	{0.40, 0.18},
	{0.28, 0.13},
	{0.15, 0.21},
	{0.11, 0.35},
	{0.15, 0.48},
	{0.30, 0.63},
	{0.48, 0.70},
	{0.75, 0.72},
	{0.90, 0.80},
	{0.88, 0.92},
	{0.70, 0.93},
	{0.52, 0.92},
}

// Monza returns the built-in default circuit
func Monza() *Track {
	t, err := New("Monza", monzaLength, monzaPoints,
		WithDRSZones(
			Zone{Start: monzaLength * 0.03, End: monzaLength * 0.20},
			Zone{Start: monzaLength * 0.55, End: monzaLength * 0.77},
		),
		WithSlipstreamRange(monzaSlipstreamRange),
	)
	if err != nil {
		panic(err)
	}
	return t
}
