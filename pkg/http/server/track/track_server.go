// Package track serves the static track data, the health endpoint and the
// optional browser client.
package track

import (
	"net/http"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/http/util"
	"github.com/mpapenbr/racesim/pkg/track"
)

func NewServer(opts ...Option) *trackServer {
	ret := &trackServer{
		log: log.Default().Named("http.track"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.track == nil {
		ret.track = track.Monza()
	}
	ret.summary = ret.track.Summary()
	return ret
}

type Option func(*trackServer)

func WithTrack(t *track.Track) Option {
	return func(srv *trackServer) {
		srv.track = t
	}
}

// WithPublicDir serves the files of dir for all GET requests not matched
// by an API endpoint.
func WithPublicDir(dir string) Option {
	return func(srv *trackServer) {
		srv.publicDir = dir
	}
}

type trackServer struct {
	track     *track.Track
	summary   track.Summary
	publicDir string
	log       *log.Logger
}

func (s *trackServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/track", s.GetTrack)
	mux.HandleFunc("GET /api/health", s.Health)
	if s.publicDir != "" {
		s.log.Info("serving static files", log.String("dir", s.publicDir))
		files := http.FileServer(http.Dir(s.publicDir))
		mux.Handle("GET /", files)
	}
	mux.HandleFunc("/", s.NotFound)
}

func (s *trackServer) GetTrack(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, s.summary)
}

func (s *trackServer) Health(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, util.OKBody{OK: true})
}

func (s *trackServer) NotFound(w http.ResponseWriter, r *http.Request) {
	util.WriteError(w, http.StatusNotFound, "Not found")
}
