// Package wsbridge keeps a websocket open to the analysis push endpoint and
// hands analysis_update and stats_update events to its owner.
//
// Lifecycle: disconnected -> connecting -> connected -> disconnected, forever,
// until Disconnect. Each drop schedules exactly one reconnect attempt.
package wsbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/backoff"
	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/internals/timeouts"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	URL string
	// Header carries transport credentials (the session cookie).
	Header    http.Header
	Heartbeat time.Duration
	// Backoff maps the 1-based reconnect attempt to its delay.
	Backoff func(attempt int) time.Duration
	// MaxAttempts caps consecutive failed reconnects; 0 means unlimited.
	MaxAttempts int
	Dialer      Dialer
	Clock       clockwork.Clock
	Logger      *slog.Logger

	OnAnalysisUpdate func(task schemas.AnalysisTask)
	OnStatsUpdate    func(stats schemas.Stats)
	OnStateChange    func(state State)
}

type Bridge struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	started       bool
	closed        bool
	conn          *websocket.Conn
	generation    int
	attempts      int
	reconnect     clockwork.Timer
	heartbeatStop chan struct{}
	heartbeat     clockwork.Ticker
}

func DefaultBackoff() func(attempt int) time.Duration {
	return backoff.Exponential(backoff.Config{
		Base:   timeouts.ReconnectDelay,
		Max:    timeouts.ReconnectMax,
		Factor: 2,
	})
}

func New(opts Options) *Bridge {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = timeouts.Heartbeat
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeouts.SecondDefault,
		}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{opts: opts, ctx: ctx, cancel: cancel}
}

// Start begins the first connection attempt in the background.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.started || b.closed {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()
	go b.connect()
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) IsConnected() bool {
	return b.State() == StateConnected
}

// Disconnect stops the reconnect timer and the heartbeat and closes the
// socket. The bridge cannot be restarted.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cancel()
	if b.reconnect != nil {
		b.reconnect.Stop()
		b.reconnect = nil
	}
	b.stopHeartbeatLocked()
	conn := b.conn
	b.conn = nil
	previous := b.state
	b.state = StateDisconnected
	b.mu.Unlock()

	if conn != nil {
		b.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(timeouts.Probe))
		b.writeMu.Unlock()
		_ = conn.Close()
	}
	if previous != StateDisconnected {
		b.notify(StateDisconnected)
	}
}

func (b *Bridge) connect() {
	b.mu.Lock()
	if b.closed || b.state != StateDisconnected {
		b.mu.Unlock()
		return
	}
	b.reconnect = nil
	b.state = StateConnecting
	b.mu.Unlock()
	b.notify(StateConnecting)

	conn, resp, err := b.opts.Dialer.DialContext(b.ctx, b.opts.URL, b.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		b.state = StateDisconnected
		delay, scheduled := b.scheduleReconnectLocked()
		b.mu.Unlock()
		b.opts.Logger.Warn("Websocket connect failed", "url", b.opts.URL, "error", err, "retry_in", delay, "scheduled", scheduled)
		b.notify(StateDisconnected)
		return
	}

	b.generation++
	generation := b.generation
	b.conn = conn
	b.state = StateConnected
	b.attempts = 0
	b.startHeartbeatLocked(conn)
	b.mu.Unlock()

	b.opts.Logger.Info("Websocket connected", "url", b.opts.URL)
	b.notify(StateConnected)
	go b.readLoop(conn, generation)
}

func (b *Bridge) readLoop(conn *websocket.Conn, generation int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.handleDrop(generation, err)
			return
		}
		b.dispatch(data)
	}
}

func (b *Bridge) handleDrop(generation int, cause error) {
	b.mu.Lock()
	if b.closed || generation != b.generation || b.conn == nil {
		b.mu.Unlock()
		return
	}
	conn := b.conn
	b.conn = nil
	b.stopHeartbeatLocked()
	b.state = StateDisconnected
	delay, scheduled := b.scheduleReconnectLocked()
	b.mu.Unlock()

	_ = conn.Close()
	b.opts.Logger.Info("Websocket disconnected", "error", cause, "retry_in", delay, "scheduled", scheduled)
	b.notify(StateDisconnected)
}

// scheduleReconnectLocked arms the single reconnect timer. It reports false
// when a timer is already armed or MaxAttempts is exhausted.
func (b *Bridge) scheduleReconnectLocked() (time.Duration, bool) {
	if b.reconnect != nil {
		return 0, false
	}
	b.attempts++
	if b.opts.MaxAttempts > 0 && b.attempts > b.opts.MaxAttempts {
		b.opts.Logger.Error("Websocket reconnect attempts exhausted", "attempts", b.attempts-1)
		return 0, false
	}
	delay := b.opts.Backoff(b.attempts)
	b.reconnect = b.opts.Clock.AfterFunc(delay, b.connect)
	return delay, true
}

func (b *Bridge) startHeartbeatLocked(conn *websocket.Conn) {
	ticker := b.opts.Clock.NewTicker(b.opts.Heartbeat)
	stop := make(chan struct{})
	b.heartbeat = ticker
	b.heartbeatStop = stop

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				if err := b.send(conn, schemas.WSMessage{Type: schemas.WSMessagePing}); err != nil {
					b.opts.Logger.Warn("Websocket heartbeat failed", "error", err)
				}
			}
		}
	}()
}

func (b *Bridge) stopHeartbeatLocked() {
	if b.heartbeat == nil {
		return
	}
	close(b.heartbeatStop)
	b.heartbeat.Stop()
	b.heartbeat = nil
	b.heartbeatStop = nil
}

func (b *Bridge) send(conn *websocket.Conn, message schemas.WSMessage) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(timeouts.SecondDefault)); err != nil {
		return err
	}
	return conn.WriteJSON(message)
}

func (b *Bridge) dispatch(data []byte) {
	var message schemas.WSMessage
	if err := json.Unmarshal(data, &message); err != nil {
		b.opts.Logger.Warn("Websocket message parse failed", "error", err)
		return
	}

	switch message.Type {
	case schemas.WSMessageAnalysisUpdate:
		var task schemas.AnalysisTask
		if err := json.Unmarshal(message.Data, &task); err != nil {
			b.opts.Logger.Warn("Websocket analysis_update parse failed", "error", err)
			return
		}
		if b.opts.OnAnalysisUpdate != nil {
			b.opts.OnAnalysisUpdate(task)
		}
	case schemas.WSMessageStatsUpdate:
		var stats schemas.Stats
		if err := json.Unmarshal(message.Data, &stats); err != nil {
			b.opts.Logger.Warn("Websocket stats_update parse failed", "error", err)
			return
		}
		if b.opts.OnStatsUpdate != nil {
			b.opts.OnStatsUpdate(stats)
		}
	case schemas.WSMessagePong:
	default:
		b.opts.Logger.Debug("Ignoring websocket message", "type", message.Type)
	}
}

func (b *Bridge) notify(state State) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(state)
	}
}
