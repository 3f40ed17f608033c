package server_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kifulabs/shinpan/internal/agent"
	"github.com/kifulabs/shinpan/internal/model"
	"github.com/kifulabs/shinpan/internal/server"
	"github.com/kifulabs/shinpan/internal/store"
)

// fakeLauncher records launch requests and writes the fresh record itself.
type fakeLauncher struct {
	st       store.Store
	launched []string
	failWith error
}

func (f *fakeLauncher) Launch(ctx context.Context, matchID, whiteID, blackID string) (*model.MatchState, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.launched = append(f.launched, matchID)
	state := model.NewMatchState(matchID)
	state.WhiteName = whiteID
	state.BlackName = blackID
	if err := f.st.Write(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (f *fakeLauncher) Reset(ctx context.Context, matchID string) (*model.MatchState, error) {
	if err := f.st.RequestCancel(ctx, matchID); err != nil {
		return nil, err
	}
	state := model.NewMatchState(matchID)
	if err := f.st.Write(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

type fixture struct {
	store    *store.Memory
	launcher *fakeLauncher
	broker   *server.Broker
	srv      *server.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemory()
	launcher := &fakeLauncher{st: st}
	broker := server.NewBroker(logger)
	registry := agent.NewRegistry(
		agent.NewScripted("alpha", "Alpha Bot"),
		agent.NewScripted("beta", "Beta Bot"),
	)
	srv := server.New(server.Config{
		Store:               st,
		Agents:              registry,
		Logger:              logger,
		Launcher:            launcher,
		Broker:              broker,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return &fixture{store: st, launcher: launcher, broker: broker, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func TestCreateMatch(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/matches",
		`{"match_id": "m1", "white_agent": "alpha", "black_agent": "beta"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"m1"}, f.launcher.launched)

	var view model.MatchView
	decodeData(t, w, &view)
	assert.Equal(t, "m1", view.MatchID)
	assert.Equal(t, model.SideWhite, view.SideToMove)
}

func TestCreateMatchValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/matches", `{"white_agent": "alpha"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/matches", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateMatchConflict(t *testing.T) {
	f := newFixture(t)
	f.launcher.failWith = server.ErrMatchRunning
	w := f.do(t, http.MethodPost, "/v1/matches",
		`{"white_agent": "alpha", "black_agent": "beta"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state := model.NewMatchState("m1")
	state.WhiteName = "Alpha Bot"
	state.MoveHistory = []string{"e4"}
	state.SetRemaining(model.SideWhite, 120)
	state.SetRemaining(model.SideBlack, 120)
	state.MarkClockStarted(model.SideWhite)
	state.Touch(time.Now().Add(-2 * time.Second))
	require.NoError(t, f.store.Write(ctx, state))

	w := f.do(t, http.MethodGet, "/v1/matches/m1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view model.MatchView
	decodeData(t, w, &view)
	assert.Equal(t, []string{"e4"}, view.MoveHistory)
	assert.Equal(t, model.SideBlack, view.SideToMove)
	// Black has not started; neither countdown advanced since the commit.
	require.NotNil(t, view.WhiteNow)
	assert.InDelta(t, 120, *view.WhiteNow, 0.5)
}

func TestGetMatchAdvanceOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// White to move with a running clock; two seconds have passed since
	// the last commit and must show up in the read.
	state := model.NewMatchState("m1")
	state.MoveHistory = []string{"e4", "e5"}
	state.SetRemaining(model.SideWhite, 120)
	state.SetRemaining(model.SideBlack, 90)
	state.MarkClockStarted(model.SideWhite)
	state.MarkClockStarted(model.SideBlack)
	state.Touch(time.Now().Add(-2 * time.Second))
	require.NoError(t, f.store.Write(ctx, state))

	w := f.do(t, http.MethodGet, "/v1/matches/m1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view model.MatchView
	decodeData(t, w, &view)
	require.NotNil(t, view.WhiteNow)
	require.NotNil(t, view.BlackNow)
	assert.InDelta(t, 118, *view.WhiteNow, 0.5)
	assert.InDelta(t, 90, *view.BlackNow, 0.01)
}

func TestGetMatchNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/matches/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state := model.NewMatchState("m1")
	state.MoveHistory = []string{"e4", "e5"}
	state.SetRemaining(model.SideWhite, 60)
	state.SetRemaining(model.SideBlack, 60)
	state.MarkClockStarted(model.SideWhite)
	state.MarkClockStarted(model.SideBlack)
	state.Touch(time.Now())
	require.NoError(t, f.store.Write(ctx, state))

	w := f.do(t, http.MethodGet, "/v1/matches/m1/tick", "")
	require.Equal(t, http.StatusOK, w.Code)

	var tick model.TickView
	decodeData(t, w, &tick)
	assert.Equal(t, "m1", tick.MatchID)
	assert.Equal(t, model.SideWhite, tick.SideToMove)
	require.NotNil(t, tick.WhiteNow)
	assert.InDelta(t, 60, *tick.WhiteNow, 0.5)
	assert.False(t, tick.IsGameOver)
}

func TestCancelMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Write(ctx, model.NewMatchState("m1")))

	w := f.do(t, http.MethodPost, "/v1/matches/m1/cancel", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	cancelled, err := f.store.Cancelled(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Idempotent.
	w = f.do(t, http.MethodPost, "/v1/matches/m1/cancel", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestResetMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state := model.NewMatchState("m1")
	state.MoveHistory = []string{"e4", "e5"}
	require.NoError(t, f.store.Write(ctx, state))

	w := f.do(t, http.MethodPost, "/v1/matches/m1/reset", "")
	require.Equal(t, http.StatusOK, w.Code)

	read, err := f.store.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, read.MoveHistory)
}

func TestListAgents(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/agents", "")
	require.Equal(t, http.StatusOK, w.Code)

	var agents []agent.Info
	decodeData(t, w, &agents)
	assert.Equal(t, []agent.Info{
		{ID: "alpha", Name: "Alpha Bot"},
		{ID: "beta", Name: "Beta Bot"},
	}, agents)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health model.HealthResponse
	decodeData(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestArchiveUnconfigured(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/archive/results", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestBrokerFanout(t *testing.T) {
	f := newFixture(t)
	ch1 := f.broker.Subscribe()
	ch2 := f.broker.Subscribe()
	defer f.broker.Unsubscribe(ch1)
	defer f.broker.Unsubscribe(ch2)

	f.broker.Publish(server.EventMove, []byte(`{"move":"e4"}`))

	for _, ch := range []chan []byte{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, "event: move\ndata: {\"move\":\"e4\"}\n\n", string(event))
		case <-time.After(time.Second):
			t.Fatal("no event received")
		}
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	f := newFixture(t)
	ch := f.broker.Subscribe()
	defer f.broker.Unsubscribe(ch)

	// Publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			f.broker.Publish(server.EventTime, []byte(`{}`))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
