// Package server assembles the HTTP API.
package server

import (
	"net/http"

	"github.com/mpapenbr/racesim/pkg/http/server/lobby"
	"github.com/mpapenbr/racesim/pkg/http/server/track"
	lobbyreg "github.com/mpapenbr/racesim/pkg/lobby"
)

type Config struct {
	Registry  *lobbyreg.Registry
	PublicDir string
}

// NewMux registers all API endpoints for the given registry
func NewMux(cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	lobby.NewServer(lobby.WithRegistry(cfg.Registry)).Register(mux)
	track.NewServer(
		track.WithTrack(cfg.Registry.Track()),
		track.WithPublicDir(cfg.PublicDir),
	).Register(mux)
	return mux
}
