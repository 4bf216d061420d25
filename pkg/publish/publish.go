// Package publish mirrors lobby snapshots and lifecycle events to an
// external message bus.
package publish

import "context"

const (
	SubjectPrefix  = "racesim.lobby"
	SubjectCreated = SubjectPrefix + ".created"
	SubjectRemoved = SubjectPrefix + ".removed"
)

// Publisher receives every encoded lobby snapshot after local fan-out.
// Implementations must not block the caller for long and never fail the tick.
type Publisher interface {
	PublishState(ctx context.Context, lobbyID string, payload []byte)
	PublishCreated(ctx context.Context, lobbyID string)
	PublishRemoved(ctx context.Context, lobbyID string)
	Close()
}

// StateSubject returns the subject used for snapshots of a lobby
func StateSubject(lobbyID string) string {
	return SubjectPrefix + "." + lobbyID + ".state"
}

type nopPublisher struct{}

func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) PublishState(context.Context, string, []byte) {}
func (nopPublisher) PublishCreated(context.Context, string)       {}
func (nopPublisher) PublishRemoved(context.Context, string)       {}
func (nopPublisher) Close()                                       {}
