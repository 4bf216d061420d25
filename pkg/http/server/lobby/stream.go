package lobby

import (
	"fmt"
	"net/http"

	"github.com/mpapenbr/racesim/log"
)

// Stream sends the lobby snapshot as server sent event on every tick.
// The current snapshot is sent immediately after subscribing.
func (s *lobbyServer) Stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	l, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := l.Subscribe()
	defer l.Unsubscribe(sub.ID)
	s.log.Debug("stream opened", log.String("lobby", id), log.String("subscription", sub.ID))

	for {
		select {
		case <-r.Context().Done():
			s.log.Debug("stream closed by client",
				log.String("lobby", id), log.String("subscription", sub.ID))
			return
		case <-sub.Done:
			s.log.Debug("stream closed by server",
				log.String("lobby", id), log.String("subscription", sub.ID))
			return
		case payload := <-sub.C:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				s.log.Debug("stream write failed",
					log.String("lobby", id), log.ErrorField(err))
				return
			}
			if err := rc.Flush(); err != nil {
				s.log.Debug("stream flush failed",
					log.String("lobby", id), log.ErrorField(err))
				return
			}
		}
	}
}
