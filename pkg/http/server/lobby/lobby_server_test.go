//nolint:funlen // ok for tests
package lobby

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racesim/pkg/lobby"
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/sim"
)

type ids struct {
	LobbyID  string `json:"lobbyId"`
	PlayerID string `json:"playerId"`
}

func newTestMux(reg *lobby.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	NewServer(WithRegistry(reg)).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func createLobby(t *testing.T, h http.Handler, body string) ids {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/lobbies", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var ret ids
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	return ret
}

func TestCreateLobby(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantHost string
		wantCars int
	}{
		{name: "named host", body: `{"hostName":"Alice","aiCount":2}`, wantHost: "Alice", wantCars: 3},
		{name: "empty body", body: ``, wantHost: "Host", wantCars: 1},
		{name: "null name", body: `{"hostName":null}`, wantHost: "Host", wantCars: 1},
		{name: "clamped ai", body: `{"aiCount":99}`, wantHost: "Host", wantCars: 7},
		{name: "non numeric ai", body: `{"aiCount":"3"}`, wantHost: "Host", wantCars: 1},
		{name: "fractional ai", body: `{"aiCount":1.5}`, wantHost: "Host", wantCars: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := lobby.NewRegistry()
			mux := newTestMux(reg)
			got := createLobby(t, mux, tt.body)

			l, err := reg.Get(got.LobbyID)
			require.NoError(t, err)
			snap := l.Snapshot()
			require.Len(t, snap.Cars, tt.wantCars)
			assert.Equal(t, got.PlayerID, snap.Cars[0].ID)
			assert.Equal(t, tt.wantHost, snap.Cars[0].Name)
		})
	}
}

func TestGetLobby(t *testing.T) {
	reg := lobby.NewRegistry()
	mux := newTestMux(reg)
	created := createLobby(t, mux, `{"hostName":"Alice","aiCount":1}`)

	rec := do(t, mux, http.MethodGet, "/api/lobbies/"+created.LobbyID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, created.LobbyID, snap.LobbyID)
	assert.Equal(t, uint64(0), snap.Tick)
	assert.Equal(t, model.TrackRef{Name: "Monza", Length: 5793}, snap.Track)
	assert.Len(t, snap.Cars, 2)
}

func TestJoinAndAddAI(t *testing.T) {
	reg := lobby.NewRegistry()
	mux := newTestMux(reg)
	created := createLobby(t, mux, `{}`)
	base := "/api/lobbies/" + created.LobbyID

	rec := do(t, mux, http.MethodPost, base+"/join", `{"name":"Bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var joined ids
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))
	assert.Equal(t, created.LobbyID, joined.LobbyID)
	assert.NotEqual(t, created.PlayerID, joined.PlayerID)

	rec = do(t, mux, http.MethodPost, base+"/add-ai", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var added struct {
		OK   bool   `json:"ok"`
		AIID string `json:"aiId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.True(t, added.OK)

	l, _ := reg.Get(created.LobbyID)
	car, ok := l.Car(added.AIID)
	require.True(t, ok)
	assert.Equal(t, model.CarTypeAI, car.Type)
	assert.Equal(t, "AI-1", car.Name)
	car, _ = l.Car(joined.PlayerID)
	assert.Equal(t, "Bob", car.Name)
}

func TestErrors(t *testing.T) {
	reg := lobby.NewRegistry()
	mux := newTestMux(reg)
	created := createLobby(t, mux, `{}`)
	base := "/api/lobbies/" + created.LobbyID

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name: "join unknown lobby", path: "/api/lobbies/nope/join", body: `{}`,
			wantStatus: http.StatusNotFound, wantBody: `{"error":"Lobby not found"}`,
		},
		{
			name: "add-ai unknown lobby", path: "/api/lobbies/nope/add-ai", body: `{}`,
			wantStatus: http.StatusNotFound, wantBody: `{"error":"Lobby not found"}`,
		},
		{
			name: "input unknown lobby", path: "/api/lobbies/nope/input", body: `{"playerId":"x"}`,
			wantStatus: http.StatusNotFound, wantBody: `{"error":"Lobby not found"}`,
		},
		{
			name: "input unknown player", path: base + "/input", body: `{"playerId":"x","throttle":1}`,
			wantStatus: http.StatusNotFound, wantBody: `{"error":"Player not found"}`,
		},
		{
			name: "unknown lobby wins over malformed body", path: "/api/lobbies/nope/input",
			body: `{"playerId":`, wantStatus: http.StatusNotFound,
			wantBody: `{"error":"Lobby not found"}`,
		},
		{
			name: "malformed join", path: base + "/join", body: `{"name":`,
			wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid JSON"}`,
		},
		{
			name: "malformed add-ai", path: base + "/add-ai", body: `not json`,
			wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid JSON"}`,
		},
		{
			name: "non numeric throttle", path: base + "/input",
			body:       `{"playerId":"` + created.PlayerID + `","throttle":"full"}`,
			wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid JSON"}`,
		},
		{
			name: "body too large", path: base + "/join",
			body:       `{"name":"` + strings.Repeat("x", 1_000_001) + `"}`,
			wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid JSON"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := mustLobby(t, reg, created.LobbyID).Snapshot()
			rec := do(t, mux, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, before, mustLobby(t, reg, created.LobbyID).Snapshot())
		})
	}
}

func TestInput(t *testing.T) {
	reg := lobby.NewRegistry()
	mux := newTestMux(reg)
	created := createLobby(t, mux, `{}`)
	path := "/api/lobbies/" + created.LobbyID + "/input"

	tests := []struct {
		name string
		body string
		want model.Input
	}{
		{
			name: "regular",
			body: `{"throttle":0.5,"brake":0,"drs":true,"ers":false}`,
			want: model.Input{Throttle: 0.5, DRS: true},
		},
		{
			name: "clamped",
			body: `{"throttle":7,"brake":-3}`,
			want: model.Input{Throttle: 1},
		},
		{
			name: "truthy flags",
			body: `{"brake":1,"drs":1,"ers":"on"}`,
			want: model.Input{Brake: 1, DRS: true, ERS: true},
		},
		{
			name: "falsy flags",
			body: `{"drs":0,"ers":""}`,
			want: model.Input{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"playerId":"` + created.PlayerID + `",` + tt.body[1:]
			rec := do(t, mux, http.MethodPost, path, body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
			assert.Equal(t, tt.want, mustLobby(t, reg, created.LobbyID).Input(created.PlayerID))
		})
	}
}

func TestStream(t *testing.T) {
	reg := lobby.NewRegistry()
	srv := httptest.NewServer(newTestMux(reg))
	defer srv.Close()
	l, _ := reg.CreateLobby("host", 1)
	engine := sim.NewEngine(reg.Track())

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/lobbies/"+l.ID()+"/stream", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() model.Snapshot {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(line, "data: "), "got %q", line)
		blank, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "\n", blank)
		var snap model.Snapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		return snap
	}

	initial := readEvent()
	assert.Equal(t, uint64(0), initial.Tick)
	assert.Equal(t, l.ID(), initial.LobbyID)
	assert.Len(t, initial.Cars, 2)

	require.Equal(t, 1, l.SubscriberCount())
	l.RunTick(engine, 0.1)
	l.RunTick(engine, 0.1)
	assert.Equal(t, uint64(1), readEvent().Tick)
	assert.Equal(t, uint64(2), readEvent().Tick)

	// client disconnect removes the subscriber
	cancel()
	assert.Eventually(t, func() bool { return l.SubscriberCount() == 0 },
		time.Second, 10*time.Millisecond)
	// further ticks do not block
	l.RunTick(engine, 0.1)
	assert.Equal(t, uint64(3), l.Tick())
}

func TestStream_unknownLobby(t *testing.T) {
	mux := newTestMux(lobby.NewRegistry())
	rec := do(t, mux, http.MethodGet, "/api/lobbies/nope/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Lobby not found"}`, rec.Body.String())
}

func TestStream_lobbyClosed(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := lobby.NewRegistry(
		lobby.WithClock(func() time.Time { return now }),
		lobby.WithIdleTimeout(time.Minute))
	srv := httptest.NewServer(newTestMux(reg))
	defer srv.Close()
	l, _ := reg.CreateLobby("host", 0)

	resp, err := http.Get(srv.URL + "/api/lobbies/" + l.ID() + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	// lobbies with subscribers are kept
	assert.Empty(t, reg.Reap(now.Add(time.Hour)))
	reg.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
	}
}

func mustLobby(t *testing.T, reg *lobby.Registry, id string) *lobby.Lobby {
	t.Helper()
	l, err := reg.Get(id)
	require.NoError(t, err)
	return l
}
