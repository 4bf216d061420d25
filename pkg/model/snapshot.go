package model

type (
	TrackRef struct {
		Name   string  `json:"name"`
		Length float64 `json:"length"`
	}

	// Snapshot is the state of a lobby as pushed to subscribers
	Snapshot struct {
		LobbyID string   `json:"lobbyId"`
		Tick    uint64   `json:"tick"`
		Track   TrackRef `json:"track"`
		Cars    []Car    `json:"cars"`
	}
)
