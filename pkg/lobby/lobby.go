package lobby

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/sim"
	"github.com/mpapenbr/racesim/pkg/track"
	"github.com/mpapenbr/racesim/pkg/utils/broadcast"
)

// Lobby is one independent race session.
// All state is guarded by mutex. The simulation tick and request handlers
// both go through the exported methods, so there is a single writer at a time.
type Lobby struct {
	id           string
	createdAt    time.Time
	track        *track.Track
	mutex        sync.Mutex
	humans       []*model.Car // join order
	players      map[string]*model.Car
	ai           []*model.Car
	inputs       map[string]model.Input
	tick         uint64
	lastActivity time.Time
	bcst         broadcast.BroadcastServer[[]byte]
	l            *log.Logger
	now          func() time.Time
}

func (l *Lobby) ID() string { return l.id }

func (l *Lobby) CreatedAt() time.Time { return l.createdAt }

func (l *Lobby) Tick() uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.tick
}

func (l *Lobby) LastActivity() time.Time {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.lastActivity
}

func (l *Lobby) SubscriberCount() int {
	return l.bcst.Len()
}

// Snapshot returns a copy of the current lobby state
func (l *Lobby) Snapshot() model.Snapshot {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.snapshotLocked()
}

// Car returns a copy of the car with the given id
func (l *Lobby) Car(id string) (model.Car, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, c := range l.carsLocked() {
		if c.ID == id {
			return *c, true
		}
	}
	return model.Car{}, false
}

// Input returns the registered input of a human player (zero value if none)
func (l *Lobby) Input(playerID string) model.Input {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.inputs[playerID]
}

// RunTick increments the tick counter, advances all cars by dt and pushes
// the resulting snapshot to all subscribers. The encoded snapshot is returned.
func (l *Lobby) RunTick(engine *sim.Engine, dt float64) []byte {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.tick++
	engine.Advance(l.carsLocked(), l.inputs, dt)
	payload := l.encodeLocked()
	if payload != nil {
		l.bcst.Publish(payload)
	}
	return payload
}

// Subscribe registers a new stream subscriber. The current state is queued
// as first message.
func (l *Lobby) Subscribe() *broadcast.Subscription[[]byte] {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.lastActivity = l.now()
	if payload := l.encodeLocked(); payload != nil {
		return l.bcst.Subscribe(payload)
	}
	return l.bcst.Subscribe()
}

func (l *Lobby) Unsubscribe(id string) {
	l.bcst.CancelSubscription(id)
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.lastActivity = l.now()
}

func (l *Lobby) close() {
	l.bcst.Close()
}

func (l *Lobby) addCarLocked(car *model.Car, now time.Time) {
	if car.Type == model.CarTypeAI {
		l.ai = append(l.ai, car)
	} else {
		l.humans = append(l.humans, car)
		l.players[car.ID] = car
	}
	l.lastActivity = now
}

func (l *Lobby) setInputLocked(playerID string, in model.Input, now time.Time) error {
	if _, ok := l.players[playerID]; !ok {
		return ErrPlayerNotFound
	}
	l.inputs[playerID] = model.Input{
		Throttle: lo.Clamp(in.Throttle, 0, 1),
		Brake:    lo.Clamp(in.Brake, 0, 1),
		DRS:      in.DRS,
		ERS:      in.ERS,
	}
	l.lastActivity = now
	return nil
}

func (l *Lobby) numCarsLocked() int {
	return len(l.humans) + len(l.ai)
}

// humans first (join order), then AI cars (creation order)
func (l *Lobby) carsLocked() []*model.Car {
	return slices.Concat(l.humans, l.ai)
}

func (l *Lobby) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		LobbyID: l.id,
		Tick:    l.tick,
		Track:   model.TrackRef{Name: l.track.Name(), Length: l.track.Length()},
		Cars: lo.Map(l.carsLocked(), func(c *model.Car, _ int) model.Car {
			return *c
		}),
	}
}

func (l *Lobby) encodeLocked() []byte {
	payload, err := json.Marshal(l.snapshotLocked())
	if err != nil {
		l.l.Error("could not encode snapshot",
			log.String("lobby", l.id), log.ErrorField(err))
		return nil
	}
	return payload
}
