package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/backoff"
	"github.com/pixelsort/taskwatch/internals/logging"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type testServer struct {
	*httptest.Server
	connections atomic.Int32
	received    chan schemas.WSMessage
}

// newTestServer upgrades every request and hands the connection to handle,
// which receives the 1-based connection number.
func newTestServer(t *testing.T, handle func(n int32, conn *websocket.Conn, ts *testServer)) *testServer {
	t.Helper()
	ts := &testServer{received: make(chan schemas.WSMessage, 16)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		n := ts.connections.Add(1)
		handle(n, conn, ts)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// readUntilClosed records client messages until the client goes away.
func readUntilClosed(conn *websocket.Conn, ts *testServer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var message schemas.WSMessage
		if json.Unmarshal(data, &message) == nil {
			ts.received <- message
		}
	}
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func newTestBridge(url string, fc clockwork.Clock, states chan State, opts Options) *Bridge {
	opts.URL = url
	opts.Clock = fc
	opts.Logger = logging.Discard()
	opts.OnStateChange = func(state State) { states <- state }
	return New(opts)
}

func TestBridgeReconnectsOnceAfterAbruptClose(t *testing.T) {
	ts := newTestServer(t, func(n int32, conn *websocket.Conn, ts *testServer) {
		if n == 1 {
			// drop without a close frame
			_ = conn.UnderlyingConn().Close()
			return
		}
		readUntilClosed(conn, ts)
	})

	fc := clockwork.NewFakeClock()
	states := make(chan State, 32)
	b := newTestBridge(ts.wsURL(), fc, states, Options{Backoff: backoff.Fixed(5 * time.Second)})
	defer b.Disconnect()

	b.Start()
	waitState(t, states, StateConnected)
	waitState(t, states, StateDisconnected)
	if b.IsConnected() {
		t.Fatalf("expected disconnected after abrupt close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("expected one reconnect timer: %v", err)
	}

	fc.Advance(4 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if b.IsConnected() || ts.connections.Load() != 1 {
		t.Fatalf("reconnect must wait for the full delay")
	}

	fc.Advance(time.Second)
	waitState(t, states, StateConnected)
	if got := ts.connections.Load(); got != 2 {
		t.Fatalf("expected exactly one reconnect, got %d connections", got)
	}
}

func TestBridgeHeartbeat(t *testing.T) {
	ts := newTestServer(t, func(n int32, conn *websocket.Conn, ts *testServer) {
		readUntilClosed(conn, ts)
	})

	fc := clockwork.NewFakeClock()
	states := make(chan State, 32)
	b := newTestBridge(ts.wsURL(), fc, states, Options{Heartbeat: 30 * time.Second})
	defer b.Disconnect()

	b.Start()
	waitState(t, states, StateConnected)

	fc.Advance(30 * time.Second)
	select {
	case message := <-ts.received:
		if message.Type != schemas.WSMessagePing {
			t.Fatalf("expected ping, got %s", message.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for heartbeat")
	}
}

func TestBridgeDispatchesEventsAndSurvivesGarbage(t *testing.T) {
	ts := newTestServer(t, func(n int32, conn *websocket.Conn, ts *testServer) {
		update, _ := schemas.NewWSMessage(schemas.WSMessageAnalysisUpdate, schemas.AnalysisTask{ID: 4, Status: schemas.AnalysisStatusProcessing})
		stats, _ := schemas.NewWSMessage(schemas.WSMessageStatsUpdate, schemas.Stats{Total: 4, Processing: 1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteJSON(schemas.WSMessage{Type: schemas.WSMessagePong})
		_ = conn.WriteJSON(update)
		_ = conn.WriteJSON(stats)
		readUntilClosed(conn, ts)
	})

	updates := make(chan schemas.AnalysisTask, 4)
	statsUpdates := make(chan schemas.Stats, 4)
	fc := clockwork.NewFakeClock()
	states := make(chan State, 32)
	b := newTestBridge(ts.wsURL(), fc, states, Options{
		OnAnalysisUpdate: func(task schemas.AnalysisTask) { updates <- task },
		OnStatsUpdate:    func(stats schemas.Stats) { statsUpdates <- stats },
	})
	defer b.Disconnect()

	b.Start()
	select {
	case task := <-updates:
		if task.ID != 4 || task.Status != schemas.AnalysisStatusProcessing {
			t.Fatalf("unexpected update %+v", task)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for analysis update")
	}
	select {
	case stats := <-statsUpdates:
		if stats.Total != 4 || stats.Processing != 1 {
			t.Fatalf("unexpected stats %+v", stats)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for stats update")
	}
	if !b.IsConnected() {
		t.Fatalf("parse failures must not close the connection")
	}
}

func TestBridgeDisconnectIsDeterministic(t *testing.T) {
	ts := newTestServer(t, func(n int32, conn *websocket.Conn, ts *testServer) {
		readUntilClosed(conn, ts)
	})

	fc := clockwork.NewFakeClock()
	states := make(chan State, 32)
	b := newTestBridge(ts.wsURL(), fc, states, Options{})

	b.Start()
	waitState(t, states, StateConnected)
	b.Disconnect()
	waitState(t, states, StateDisconnected)

	fc.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	if b.State() != StateDisconnected {
		t.Fatalf("expected bridge to stay disconnected, got %s", b.State())
	}
	if got := ts.connections.Load(); got != 1 {
		t.Fatalf("expected no reconnect after Disconnect, got %d connections", got)
	}

	b.Start()
	if b.State() != StateDisconnected {
		t.Fatalf("Start after Disconnect must be a no-op")
	}
}

func TestBridgeRetriesFailedDialWithBackoff(t *testing.T) {
	fc := clockwork.NewFakeClock()
	states := make(chan State, 32)
	b := newTestBridge("ws://127.0.0.1:1/ws/analysis/", fc, states, Options{MaxAttempts: 2})
	defer b.Disconnect()

	b.Start()
	waitState(t, states, StateDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("expected first reconnect timer: %v", err)
	}
	fc.Advance(5 * time.Second)
	waitState(t, states, StateConnecting)
	waitState(t, states, StateDisconnected)

	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("expected second reconnect timer: %v", err)
	}
	fc.Advance(9 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if b.State() != StateDisconnected {
		t.Fatalf("second retry must wait the doubled delay")
	}
	fc.Advance(time.Second)
	waitState(t, states, StateConnecting)
	waitState(t, states, StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	fc.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	select {
	case state := <-states:
		t.Fatalf("expected no attempts after MaxAttempts, got state %s", state)
	default:
	}
}
