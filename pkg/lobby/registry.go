package lobby

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/track"
	"github.com/mpapenbr/racesim/pkg/utils/broadcast"
)

var (
	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrPlayerNotFound = errors.New("player not found")
)

const (
	DefaultMaxAI       = 6
	DefaultGridSpacing = 30.0 // meters between two grid slots
	defaultHostName    = "Host"
	defaultDriverName  = "Driver"
)

var Colors = []string{
	"#00e3a9", "#f06292", "#ffd166", "#66ccff", "#ff8f00", "#a569bd", "#4db6ac",
}

type (
	// Registry owns all lobbies of the process.
	// Lobbies are kept in registration order.
	Registry struct {
		mutex            sync.RWMutex
		lobbies          map[string]*Lobby
		order            []*Lobby
		track            *track.Track
		maxAI            int
		gridSpacing      float64
		idleTimeout      time.Duration
		subscriberBuffer int
		pickColor        func() string
		now              func() time.Time
		onCreate         func(*Lobby)
		onRemove         func(*Lobby)
		l                *log.Logger
	}
	Option func(*Registry)
)

func WithTrack(t *track.Track) Option {
	return func(r *Registry) {
		r.track = t
	}
}

func WithMaxAI(n int) Option {
	return func(r *Registry) {
		r.maxAI = max(0, n)
	}
}

func WithGridSpacing(meters float64) Option {
	return func(r *Registry) {
		r.gridSpacing = meters
	}
}

// WithIdleTimeout enables reaping of lobbies without subscribers which had
// no activity for the given duration. A value <= 0 disables reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.idleTimeout = d
	}
}

func WithSubscriberBuffer(size int) Option {
	return func(r *Registry) {
		r.subscriberBuffer = size
	}
}

func WithColorPicker(f func() string) Option {
	return func(r *Registry) {
		r.pickColor = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithOnCreate(cb func(*Lobby)) Option {
	return func(r *Registry) {
		r.onCreate = cb
	}
}

func WithOnRemove(cb func(*Lobby)) Option {
	return func(r *Registry) {
		r.onRemove = cb
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		r.l = l
	}
}

func NewRegistry(opts ...Option) *Registry {
	ret := &Registry{
		lobbies:     make(map[string]*Lobby),
		maxAI:       DefaultMaxAI,
		gridSpacing: DefaultGridSpacing,
		pickColor: func() string {
			//nolint:gosec // cosmetic only
			return Colors[rand.IntN(len(Colors))]
		},
		now: time.Now,
		l:   log.Default().Named("racesim.lobby"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.track == nil {
		ret.track = track.Monza()
	}
	return ret
}

func (r *Registry) Track() *track.Track { return r.track }

// CreateLobby creates a lobby with a human host and aiCount AI cars.
// aiCount is clamped to [0, maxAI].
func (r *Registry) CreateLobby(hostName string, aiCount int) (lobby *Lobby, hostID string) {
	now := r.now()
	l := &Lobby{
		id:           uuid.NewString(),
		createdAt:    now,
		track:        r.track,
		players:      make(map[string]*model.Car),
		inputs:       make(map[string]model.Input),
		lastActivity: now,
		l:            r.l,
		now:          r.now,
	}
	l.bcst = broadcast.NewBroadcastServer(
		fmt.Sprintf("lobby.%s", l.id),
		broadcast.WithBufferSize[[]byte](r.subscriberBuffer),
		broadcast.WithTelemetry[[]byte](attribute.String("lobby", l.id)),
	)

	host := r.newCar(nameOr(hostName, defaultHostName), model.CarTypeHuman, 0)
	l.addCarLocked(host, now)
	for i := range min(max(aiCount, 0), r.maxAI) {
		l.addCarLocked(r.newCar(fmt.Sprintf("AI-%d", i+1), model.CarTypeAI, i+1), now)
	}

	r.mutex.Lock()
	r.lobbies[l.id] = l
	r.order = append(r.order, l)
	r.mutex.Unlock()

	r.l.Info("lobby created",
		log.String("lobby", l.id),
		log.String("host", host.ID),
		log.Int("ai", len(l.ai)))
	if r.onCreate != nil {
		r.onCreate(l)
	}
	return l, host.ID
}

// Get returns the lobby with the given id
func (r *Registry) Get(lobbyID string) (*Lobby, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if l, ok := r.lobbies[lobbyID]; ok {
		return l, nil
	}
	return nil, ErrLobbyNotFound
}

// Join adds a human car behind all existing cars
func (r *Registry) Join(lobbyID, name string) (playerID string, err error) {
	l, err := r.Get(lobbyID)
	if err != nil {
		return "", err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	car := r.newCar(nameOr(name, defaultDriverName), model.CarTypeHuman, l.numCarsLocked())
	l.addCarLocked(car, r.now())
	r.l.Debug("player joined", log.String("lobby", lobbyID), log.String("player", car.ID))
	return car.ID, nil
}

// AddAI appends an AI car. An empty name is replaced by "AI-<n>".
func (r *Registry) AddAI(lobbyID, name string) (aiID string, err error) {
	l, err := r.Get(lobbyID)
	if err != nil {
		return "", err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	name = nameOr(name, fmt.Sprintf("AI-%d", len(l.ai)+1))
	car := r.newCar(name, model.CarTypeAI, l.numCarsLocked())
	l.addCarLocked(car, r.now())
	r.l.Debug("ai added", log.String("lobby", lobbyID), log.String("ai", car.ID))
	return car.ID, nil
}

// SetInput stores the latest input of a human player.
// Throttle and brake are clamped to [0,1].
func (r *Registry) SetInput(lobbyID, playerID string, in model.Input) error {
	l, err := r.Get(lobbyID)
	if err != nil {
		return err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.setInputLocked(playerID, in, r.now())
}

// Lobbies returns the current lobbies in registration order
func (r *Registry) Lobbies() []*Lobby {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.lobbies)
}

// Reap removes idle lobbies and returns their ids.
// A lobby is idle if it has no subscribers and its last activity is older
// than the idle timeout.
func (r *Registry) Reap(now time.Time) []string {
	if r.idleTimeout <= 0 {
		return nil
	}
	var removed []*Lobby
	r.mutex.Lock()
	r.order = slices.DeleteFunc(r.order, func(l *Lobby) bool {
		if l.SubscriberCount() > 0 || now.Sub(l.LastActivity()) <= r.idleTimeout {
			return false
		}
		delete(r.lobbies, l.id)
		removed = append(removed, l)
		return true
	})
	r.mutex.Unlock()

	ids := make([]string, 0, len(removed))
	for _, l := range removed {
		l.close()
		r.l.Info("lobby removed after idle timeout", log.String("lobby", l.id))
		if r.onRemove != nil {
			r.onRemove(l)
		}
		ids = append(ids, l.id)
	}
	return ids
}

// Close removes all lobbies
func (r *Registry) Close() {
	r.mutex.Lock()
	all := r.order
	r.order = nil
	r.lobbies = make(map[string]*Lobby)
	r.mutex.Unlock()
	for _, l := range all {
		l.close()
	}
}

func (r *Registry) newCar(name string, carType model.CarType, slot int) *model.Car {
	return model.NewCar(uuid.NewString(), name, carType, r.pickColor(),
		r.track.Normalize(float64(slot)*r.gridSpacing))
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
