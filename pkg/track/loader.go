package track

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat describes a track definition file.
// DRS zones are given as fractions of the track length.
type fileFormat struct {
	Name            string      `yaml:"name"`
	Length          float64     `yaml:"length"`
	SlipstreamRange *float64    `yaml:"slipstreamRange"`
	Points          [][]float64 `yaml:"points"`
	DRSZones        []Zone      `yaml:"drsZones"`
}

// Load reads a track definition from a YAML file
func Load(path string) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func Parse(data []byte) (*Track, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(f.Points))
	for i, p := range f.Points {
		if len(p) != 2 {
			return nil, fmt.Errorf("point %d: expected 2 coordinates, got %d", i, len(p))
		}
		points = append(points, Point{p[0], p[1]})
	}
	zones := make([]Zone, 0, len(f.DRSZones))
	for _, z := range f.DRSZones {
		zones = append(zones, Zone{Start: z.Start * f.Length, End: z.End * f.Length})
	}
	slipstream := float64(monzaSlipstreamRange)
	if f.SlipstreamRange != nil {
		slipstream = *f.SlipstreamRange
	}
	return New(f.Name, f.Length, points,
		WithDRSZones(zones...),
		WithSlipstreamRange(slipstream))
}
