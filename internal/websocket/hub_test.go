package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/pipeline"
)

func startHub(t *testing.T, cfg HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

// readUntil reads events until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want EventType) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == string(want) {
			return msg
		}
	}
}

func TestHubPublishesPassEvents(t *testing.T) {
	hub, srv := startHub(t, DefaultHubConfig())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	readUntil(t, conn, EventTypeConnection)

	hub.Publish(pipeline.Event{
		RunID:     "run-1",
		Pass:      "filter_rows",
		Phase:     pipeline.PhaseFinished,
		Timestamp: time.Now(),
	})

	msg := readUntil(t, conn, EventTypePass)
	assert.Equal(t, "run-1", msg["run_id"])
	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "filter_rows", data["pass"])
	assert.Equal(t, "finished", data["phase"])

	assert.EqualValues(t, 1, hub.GetStats().TotalConnections)
}

func TestHubRunFilter(t *testing.T) {
	hub, srv := startHub(t, DefaultHubConfig())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?run_id=wanted"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, EventTypeConnection)

	hub.PublishRunStatus("other", RunStatusEvent{Status: "started"})
	hub.PublishRunStatus("wanted", RunStatusEvent{Status: "completed"})

	msg := readUntil(t, conn, EventTypeRunStatus)
	assert.Equal(t, "wanted", msg["run_id"])
}

func TestHubRequiresToken(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.APIToken = "secret"
	_, srv := startHub(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=secret"), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestHubShutdownReleasesConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(DefaultHubConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, EventTypeConnection)

	cancel()
	<-stopped
	drainUntilClosed(t, conn)

	late, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer late.Close()
	drainUntilClosed(t, late)

	assert.Zero(t, hub.GetStats().ActiveConnections)
}

// drainUntilClosed reads until the server closes conn.
func drainUntilClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("connection was not closed: %v", err)
			}
			return
		}
	}
}

func TestClientWants(t *testing.T) {
	c := &Client{}
	assert.True(t, c.wants(Event{Type: EventTypePass}))

	c.Subscription = &SubscriptionRequest{Events: []EventType{EventTypeRunStatus}}
	assert.False(t, c.wants(Event{Type: EventTypePass}))
	assert.True(t, c.wants(Event{Type: EventTypeRunStatus}))

	c.Subscription = &SubscriptionRequest{RunID: "a"}
	assert.False(t, c.wants(Event{Type: EventTypePass, RunID: "b"}))
	assert.True(t, c.wants(Event{Type: EventTypeConnection}))
}
