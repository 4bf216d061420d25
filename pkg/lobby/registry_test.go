//nolint:funlen // ok for tests
package lobby

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/sim"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(opts ...Option) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{
		WithClock(clock.Now),
		WithColorPicker(func() string { return "#00e3a9" }),
	}
	return NewRegistry(append(base, opts...)...), clock
}

func TestCreateLobby(t *testing.T) {
	tests := []struct {
		name    string
		aiCount int
		wantAI  int
	}{
		{name: "no ai", aiCount: 0, wantAI: 0},
		{name: "some ai", aiCount: 3, wantAI: 3},
		{name: "clamped to max", aiCount: 20, wantAI: DefaultMaxAI},
		{name: "negative", aiCount: -2, wantAI: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry()
			l, hostID := r.CreateLobby("Alice", tt.aiCount)

			snap := l.Snapshot()
			require.Len(t, snap.Cars, 1+tt.wantAI)
			assert.Equal(t, uint64(0), snap.Tick)
			assert.Equal(t, "Monza", snap.Track.Name)

			host := snap.Cars[0]
			assert.Equal(t, hostID, host.ID)
			assert.Equal(t, "Alice", host.Name)
			assert.Equal(t, model.CarTypeHuman, host.Type)
			assert.Equal(t, 0.0, host.Progress)
			assert.Equal(t, 0.0, host.Velocity)
			assert.Equal(t, model.MaxEnergy, host.Energy)

			for i, c := range snap.Cars[1:] {
				assert.Equal(t, model.CarTypeAI, c.Type)
				assert.Equal(t, float64(i+1)*DefaultGridSpacing, c.Progress)
			}
		})
	}
}

func TestCreateLobby_defaults(t *testing.T) {
	r, _ := newTestRegistry()
	l, _ := r.CreateLobby("", 2)
	snap := l.Snapshot()
	assert.Equal(t, "Host", snap.Cars[0].Name)
	assert.Equal(t, "AI-1", snap.Cars[1].Name)
	assert.Equal(t, "AI-2", snap.Cars[2].Name)
}

func TestUniqueIdentities(t *testing.T) {
	r, _ := newTestRegistry()
	l, _ := r.CreateLobby("host", 6)
	for range 20 {
		_, err := r.Join(l.ID(), "driver")
		require.NoError(t, err)
		_, err = r.AddAI(l.ID(), "")
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for _, c := range l.Snapshot().Cars {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
	assert.Len(t, seen, 47)
}

func TestJoin(t *testing.T) {
	r, _ := newTestRegistry()
	l, _ := r.CreateLobby("host", 2)

	playerID, err := r.Join(l.ID(), "Bob")
	require.NoError(t, err)
	car, ok := l.Car(playerID)
	require.True(t, ok)
	assert.Equal(t, "Bob", car.Name)
	assert.Equal(t, model.CarTypeHuman, car.Type)
	assert.Equal(t, 3*DefaultGridSpacing, car.Progress)

	anon, err := r.Join(l.ID(), "")
	require.NoError(t, err)
	car, _ = l.Car(anon)
	assert.Equal(t, "Driver", car.Name)

	// humans are listed before ai cars
	snap := l.Snapshot()
	assert.Equal(t, []model.CarType{
		model.CarTypeHuman, model.CarTypeHuman, model.CarTypeHuman,
		model.CarTypeAI, model.CarTypeAI,
	}, []model.CarType{
		snap.Cars[0].Type, snap.Cars[1].Type, snap.Cars[2].Type,
		snap.Cars[3].Type, snap.Cars[4].Type,
	})
}

func TestUnknownLobby(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Join("nope", "Bob")
	assert.True(t, errors.Is(err, ErrLobbyNotFound))
	_, err = r.AddAI("nope", "")
	assert.True(t, errors.Is(err, ErrLobbyNotFound))
	_, err = r.Get("nope")
	assert.True(t, errors.Is(err, ErrLobbyNotFound))
	err = r.SetInput("nope", "p", model.Input{})
	assert.True(t, errors.Is(err, ErrLobbyNotFound))
}

func TestAddAI(t *testing.T) {
	r, _ := newTestRegistry()
	l, _ := r.CreateLobby("host", 1)

	id, err := r.AddAI(l.ID(), "")
	require.NoError(t, err)
	car, _ := l.Car(id)
	assert.Equal(t, "AI-2", car.Name)
	assert.Equal(t, model.CarTypeAI, car.Type)
	assert.Equal(t, 2*DefaultGridSpacing, car.Progress)

	id, err = r.AddAI(l.ID(), "Skynet")
	require.NoError(t, err)
	car, _ = l.Car(id)
	assert.Equal(t, "Skynet", car.Name)
}

func TestSetInput(t *testing.T) {
	r, _ := newTestRegistry()
	l, hostID := r.CreateLobby("host", 1)

	require.NoError(t, r.SetInput(l.ID(), hostID,
		model.Input{Throttle: 3, Brake: -1, DRS: true}))
	assert.Equal(t, model.Input{Throttle: 1, Brake: 0, DRS: true}, l.Input(hostID))

	// last write wins
	require.NoError(t, r.SetInput(l.ID(), hostID, model.Input{Throttle: 0.25}))
	assert.Equal(t, model.Input{Throttle: 0.25}, l.Input(hostID))
}

func TestSetInput_unknownPlayer(t *testing.T) {
	r, _ := newTestRegistry()
	l, _ := r.CreateLobby("host", 1)
	aiID := l.Snapshot().Cars[1].ID
	before := l.Snapshot()

	err := r.SetInput(l.ID(), "unknown", model.Input{Throttle: 1})
	assert.True(t, errors.Is(err, ErrPlayerNotFound))
	// ai cars do not accept inputs
	err = r.SetInput(l.ID(), aiID, model.Input{Throttle: 1})
	assert.True(t, errors.Is(err, ErrPlayerNotFound))

	assert.Equal(t, before, l.Snapshot())
	assert.Equal(t, model.Input{}, l.Input("unknown"))
}

func TestRunTick(t *testing.T) {
	r, _ := newTestRegistry()
	l, hostID := r.CreateLobby("host", 0)
	engine := sim.NewEngine(r.Track())
	require.NoError(t, r.SetInput(l.ID(), hostID, model.Input{Throttle: 1}))

	sub := l.Subscribe()
	defer l.Unsubscribe(sub.ID)

	var initial model.Snapshot
	require.NoError(t, json.Unmarshal(<-sub.C, &initial))
	assert.Equal(t, uint64(0), initial.Tick)

	for i := 1; i <= 3; i++ {
		payload := l.RunTick(engine, 0.1)
		var snap model.Snapshot
		require.NoError(t, json.Unmarshal(<-sub.C, &snap))
		assert.Equal(t, uint64(i), snap.Tick)
		assert.Equal(t, l.Tick(), snap.Tick)
		assert.JSONEq(t, string(payload), mustJSON(t, snap))
	}
	car, _ := l.Car(hostID)
	assert.Greater(t, car.Velocity, 0.0)
}

func TestReap(t *testing.T) {
	var removed []string
	r, clock := newTestRegistry(
		WithIdleTimeout(time.Minute),
		WithOnRemove(func(l *Lobby) { removed = append(removed, l.ID()) }),
	)
	idle, _ := r.CreateLobby("idle", 0)
	watched, _ := r.CreateLobby("watched", 0)
	active, activeHost := r.CreateLobby("active", 0)
	sub := watched.Subscribe()
	idleSub := idle.Subscribe()
	idle.Unsubscribe(idleSub.ID)

	clock.Advance(50 * time.Second)
	require.NoError(t, r.SetInput(active.ID(), activeHost, model.Input{Throttle: 1}))
	assert.Empty(t, r.Reap(clock.Now()))

	clock.Advance(30 * time.Second)
	assert.Equal(t, []string{idle.ID()}, r.Reap(clock.Now()))
	assert.Equal(t, []string{idle.ID()}, removed)
	_, err := r.Get(idle.ID())
	assert.True(t, errors.Is(err, ErrLobbyNotFound))
	assert.Equal(t, []*Lobby{watched, active}, r.Lobbies())

	clock.Advance(time.Hour)
	assert.Equal(t, []string{active.ID()}, r.Reap(clock.Now()))

	// subscribers keep a lobby alive, closing the lobby ends their stream
	watched.Unsubscribe(sub.ID)
	<-sub.Done
	clock.Advance(time.Hour)
	assert.Equal(t, []string{watched.ID()}, r.Reap(clock.Now()))
	assert.Equal(t, 0, r.Len())
}

func TestReap_disabled(t *testing.T) {
	r, clock := newTestRegistry()
	r.CreateLobby("host", 0)
	clock.Advance(24 * time.Hour)
	assert.Empty(t, r.Reap(clock.Now()))
	assert.Equal(t, 1, r.Len())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
