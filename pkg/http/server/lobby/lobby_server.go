// Package lobby provides the HTTP endpoints for lobby management,
// input submission and the snapshot stream.
package lobby

import (
	"errors"
	"net/http"

	"github.com/aarondl/opt/omitnull"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/http/util"
	"github.com/mpapenbr/racesim/pkg/lobby"
	"github.com/mpapenbr/racesim/pkg/model"
)

func NewServer(opts ...Option) *lobbyServer {
	ret := &lobbyServer{
		log: log.Default().Named("http.lobby"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.tracer == nil {
		ret.tracer = otel.Tracer("racesim")
	}
	return ret
}

type Option func(*lobbyServer)

func WithRegistry(r *lobby.Registry) Option {
	return func(srv *lobbyServer) {
		srv.registry = r
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(srv *lobbyServer) {
		srv.tracer = tracer
	}
}

func WithLogger(l *log.Logger) Option {
	return func(srv *lobbyServer) {
		srv.log = l
	}
}

type (
	lobbyServer struct {
		registry *lobby.Registry
		log      *log.Logger
		tracer   trace.Tracer
	}

	createRequest struct {
		HostName omitnull.Val[string] `json:"hostName"`
		AICount  util.Count           `json:"aiCount"`
	}
	joinRequest struct {
		Name omitnull.Val[string] `json:"name"`
	}
	inputRequest struct {
		PlayerID string      `json:"playerId"`
		Throttle float64     `json:"throttle"`
		Brake    float64     `json:"brake"`
		DRS      util.Truthy `json:"drs"`
		ERS      util.Truthy `json:"ers"`
	}
	joinResponse struct {
		LobbyID  string `json:"lobbyId"`
		PlayerID string `json:"playerId"`
	}
	addAIResponse struct {
		OK   bool   `json:"ok"`
		AIID string `json:"aiId"`
	}
)

// Register adds the lobby endpoints to mux
func (s *lobbyServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/lobbies", s.CreateLobby)
	mux.HandleFunc("GET /api/lobbies/{id}", s.GetLobby)
	mux.HandleFunc("POST /api/lobbies/{id}/join", s.Join)
	mux.HandleFunc("POST /api/lobbies/{id}/add-ai", s.AddAI)
	mux.HandleFunc("POST /api/lobbies/{id}/input", s.Input)
	mux.HandleFunc("GET /api/lobbies/{id}/stream", s.Stream)
}

func (s *lobbyServer) CreateLobby(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "lobby.create")
	defer span.End()
	util.SetTraceID(w, span)

	var req createRequest
	if !s.decode(w, r, span, &req) {
		return
	}
	l, hostID := s.registry.CreateLobby(req.HostName.GetOr(""), int(req.AICount))
	span.SetAttributes(attribute.String("lobby", l.ID()))
	util.WriteJSON(w, http.StatusOK, joinResponse{LobbyID: l.ID(), PlayerID: hostID})
}

func (s *lobbyServer) GetLobby(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	l, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, l.Snapshot())
}

func (s *lobbyServer) Join(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "lobby.join")
	defer span.End()
	util.SetTraceID(w, span)

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("lobby", id))
	if !s.exists(w, span, id) {
		return
	}
	var req joinRequest
	if !s.decode(w, r, span, &req) {
		return
	}
	playerID, err := s.registry.Join(id, req.Name.GetOr(""))
	if err != nil {
		s.recordError(span, err)
		s.writeError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, joinResponse{LobbyID: id, PlayerID: playerID})
}

func (s *lobbyServer) AddAI(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "lobby.add-ai")
	defer span.End()
	util.SetTraceID(w, span)

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("lobby", id))
	if !s.exists(w, span, id) {
		return
	}
	var req joinRequest
	if !s.decode(w, r, span, &req) {
		return
	}
	aiID, err := s.registry.AddAI(id, req.Name.GetOr(""))
	if err != nil {
		s.recordError(span, err)
		s.writeError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, addAIResponse{OK: true, AIID: aiID})
}

func (s *lobbyServer) Input(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "lobby.input")
	defer span.End()

	id := r.PathValue("id")
	if !s.exists(w, span, id) {
		return
	}
	var req inputRequest
	if !s.decode(w, r, span, &req) {
		return
	}
	err := s.registry.SetInput(id, req.PlayerID, model.Input{
		Throttle: req.Throttle,
		Brake:    req.Brake,
		DRS:      bool(req.DRS),
		ERS:      bool(req.ERS),
	})
	if err != nil {
		s.recordError(span, err)
		s.writeError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, util.OKBody{OK: true})
}

// unknown lobbies are reported before the body is looked at
func (s *lobbyServer) exists(w http.ResponseWriter, span trace.Span, id string) bool {
	if _, err := s.registry.Get(id); err != nil {
		s.recordError(span, err)
		s.writeError(w, err)
		return false
	}
	return true
}

//nolint:whitespace // can't make both editor and linter happy
func (s *lobbyServer) decode(
	w http.ResponseWriter, r *http.Request, span trace.Span, dst any,
) bool {
	if err := util.DecodeBody(w, r, dst); err != nil {
		s.log.Debug("invalid request body",
			log.String("path", r.URL.Path), log.ErrorField(err))
		s.recordError(span, err)
		util.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func (s *lobbyServer) recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *lobbyServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound):
		util.WriteError(w, http.StatusNotFound, "Lobby not found")
	case errors.Is(err, lobby.ErrPlayerNotFound):
		util.WriteError(w, http.StatusNotFound, "Player not found")
	default:
		s.log.Error("unexpected error", log.ErrorField(err))
		util.WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}
