package track

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	ErrTooFewPoints      = errors.New("track needs at least 3 points")
	ErrOpenPolyline      = errors.New("track polyline is not closed")
	ErrDegenerateTrack   = errors.New("track polyline contains a zero length segment")
	ErrInvalidLength     = errors.New("track length must be positive")
	ErrInvalidDRSZone    = errors.New("invalid DRS zone")
	ErrInvalidCoordinate = errors.New("track point is not a finite number")
)

type (
	// Point is a normalized 2D coordinate of the track outline
	Point [2]float64

	// Zone is a half open interval [Start, End) in meters along the track
	Zone struct {
		Start float64 `json:"start" yaml:"start"`
		End   float64 `json:"end"   yaml:"end"`
	}

	// Position is the result of mapping a progress value onto the polyline
	Position struct {
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		Heading float64 `json:"heading"`
	}

	// Track is immutable after construction.
	Track struct {
		name            string
		length          float64
		points          []Point
		segmentLengths  []float64
		polylineLength  float64
		drsZones        []Zone
		slipstreamRange float64
	}

	// Summary is the public description of a track (served via /api/track)
	Summary struct {
		Name           string    `json:"name"`
		Length         float64   `json:"length"`
		Points         []Point   `json:"points"`
		SegmentLengths []float64 `json:"segmentLengths"`
		PolylineLength float64   `json:"polylineLength"`
		DRSZones       []Zone    `json:"drsZones"`
	}

	Option func(*Track)
)

func WithDRSZones(zones ...Zone) Option {
	return func(t *Track) {
		t.drsZones = slices.Clone(zones)
	}
}

func WithSlipstreamRange(r float64) Option {
	return func(t *Track) {
		t.slipstreamRange = r
	}
}

// New builds a track from a closed polyline (first point == last point)
// and the real world length in meters. DRS zones are expressed in meters.
func New(name string, length float64, points []Point, opts ...Option) (*Track, error) {
	if !(length > 0) || math.IsInf(length, 0) {
		return nil, ErrInvalidLength
	}
	if len(points) < 3 {
		return nil, ErrTooFewPoints
	}
	for i, p := range points {
		if !isFinite(p[0]) || !isFinite(p[1]) {
			return nil, fmt.Errorf("point %d: %w", i, ErrInvalidCoordinate)
		}
	}
	if points[0] != points[len(points)-1] {
		return nil, ErrOpenPolyline
	}

	t := &Track{
		name:   name,
		length: length,
		points: slices.Clone(points),
	}
	t.segmentLengths = make([]float64, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		segLen := math.Hypot(points[i+1][0]-points[i][0], points[i+1][1]-points[i][1])
		if segLen <= 0 {
			return nil, fmt.Errorf("segment %d: %w", i, ErrDegenerateTrack)
		}
		t.segmentLengths = append(t.segmentLengths, segLen)
		t.polylineLength += segLen
	}

	for _, opt := range opts {
		opt(t)
	}
	if t.slipstreamRange < 0 {
		return nil, fmt.Errorf("slipstream range %v must not be negative", t.slipstreamRange)
	}
	for _, z := range t.drsZones {
		if z.Start < 0 || z.End > length || z.Start >= z.End {
			return nil, fmt.Errorf("zone [%v,%v): %w", z.Start, z.End, ErrInvalidDRSZone)
		}
	}
	return t, nil
}

func (t *Track) Name() string             { return t.name }
func (t *Track) Length() float64          { return t.length }
func (t *Track) PolylineLength() float64  { return t.polylineLength }
func (t *Track) SlipstreamRange() float64 { return t.slipstreamRange }
func (t *Track) DRSZones() []Zone         { return slices.Clone(t.drsZones) }

// Normalize wraps progress into [0, length)
func (t *Track) Normalize(progress float64) float64 {
	d := math.Mod(progress, t.length)
	if d < 0 {
		d += t.length
	}
	// -tiny values may round up to length
	if d >= t.length {
		d = 0
	}
	return d
}

// ForwardDistance is the distance to drive from progress "from" to reach "to"
// along the racing direction, in [0, length).
func (t *Track) ForwardDistance(from, to float64) float64 {
	return t.Normalize(to - from)
}

// PointAtDistance maps progress (meters) onto the polyline.
func (t *Track) PointAtDistance(progress float64) Position {
	distance := t.Normalize(progress)
	target := distance / t.length * t.polylineLength

	traversed := 0.0
	for i, segLen := range t.segmentLengths {
		if traversed+segLen >= target {
			ratio := (target - traversed) / segLen
			p1, p2 := t.points[i], t.points[i+1]
			dx, dy := p2[0]-p1[0], p2[1]-p1[1]
			return Position{
				X:       p1[0] + dx*ratio,
				Y:       p1[1] + dy*ratio,
				Heading: math.Atan2(dy, dx),
			}
		}
		traversed += segLen
	}
	// accumulated float error never reached target
	last := t.points[len(t.points)-1]
	return Position{X: last[0], Y: last[1], Heading: 0}
}

// DRSAvailable reports whether progress lies within any DRS zone
func (t *Track) DRSAvailable(progress float64) bool {
	for _, z := range t.drsZones {
		if progress >= z.Start && progress < z.End {
			return true
		}
	}
	return false
}

func (t *Track) Summary() Summary {
	return Summary{
		Name:           t.name,
		Length:         t.length,
		Points:         slices.Clone(t.points),
		SegmentLengths: slices.Clone(t.segmentLengths),
		PolylineLength: t.polylineLength,
		DRSZones:       t.DRSZones(),
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
