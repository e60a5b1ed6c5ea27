package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/channel"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultPingInterval     = 20 * time.Second
)

// Options configures a Manager.
type Options struct {
	// URL is the websocket endpoint of the provider.
	URL string
	// Adapter translates the provider protocol.
	Adapter Adapter
	// Policy decides retry delays after unexpected closures. A default
	// policy (1s base, 5 attempts) is used when nil.
	Policy *Policy
	// Channels optionally receives every data event in addition to the
	// fan-out listeners. Useful for the store, archiver and dashboard.
	Channels *channel.Channels
	// PingInterval between keepalive control frames. Defaults to 20s.
	PingInterval time.Duration
	// HandshakeTimeout bounds the transport handshake. Defaults to 10s.
	HandshakeTimeout time.Duration
}

// Manager owns a single persistent websocket connection to one market-data
// feed. It tracks connection state, replays tracked subscriptions after every
// authenticated open, routes decoded frames to the fan-out and schedules
// reconnection attempts on unexpected closure. At most one live socket exists
// per Manager instance.
type Manager struct {
	opts    Options
	adapter Adapter
	policy  *Policy
	log     *logger.Entry

	registry *Registry
	fanout   *Fanout

	mu             sync.Mutex
	state          State
	lastErr        error
	conn           *websocket.Conn
	gen            uint64
	closing        bool
	reconnectTimer *time.Timer
	pingCancel     context.CancelFunc

	writeMu sync.Mutex

	wg sync.WaitGroup
}

// NewManager builds a Manager. It does not open the connection; call Connect.
func NewManager(opts Options) (*Manager, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("feed: url is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("feed: adapter is required")
	}
	if opts.Policy == nil {
		opts.Policy = NewPolicy(0, 0, 0)
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Manager{
		opts:     opts,
		adapter:  opts.Adapter,
		policy:   opts.Policy,
		log:      logger.GetLogger().WithComponent("feed." + opts.Adapter.Name()),
		registry: NewRegistry(),
		fanout:   NewFanout(),
		state:    StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that drove the last transition into StateError or
// StateFailed, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// AddListener registers a fan-out listener. Release the returned handle to
// stop receiving events.
func (m *Manager) AddListener(listener Listener) *Handle {
	return m.fanout.Register(listener)
}

// Connect opens the connection. It is idempotent: when a handshake is in
// flight or the socket is already open it returns immediately without opening
// a duplicate socket. A manual Connect always resets the retry counter, so it
// also revives a Manager in the terminal failed state.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state.live() {
		m.mu.Unlock()
		return nil
	}
	m.cancelReconnectLocked()
	m.closing = false
	m.policy.Reset()
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect closes the socket with a normal-closure code, cancels any
// pending reconnection timer and clears authentication state. The
// subscription registry is preserved so a future Connect replays it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	m.cancelReconnectLocked()
	m.stopPingLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.lastErr = nil
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(defaultWriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
	m.policy.Reset()

	m.log.Info("disconnected")
	m.wg.Wait()
}

// Subscribe tracks the symbol and, when the feed is ready, sends one
// subscribe frame. Subscribing an already-tracked symbol never produces a
// wire frame. Symbols tracked while disconnected are replayed automatically
// on the next authenticated open.
func (m *Manager) Subscribe(symbol string, channels []string) error {
	sub := Subscription{Symbol: symbol, Channels: channels}
	if !m.registry.Add(sub) {
		m.log.WithField("symbol", symbol).Debug("symbol already subscribed")
		return nil
	}

	m.mu.Lock()
	ready := m.state == StateAuthenticated
	m.mu.Unlock()
	if !ready {
		return nil
	}

	frame, err := m.adapter.SubscribeFrame([]Subscription{sub})
	if err != nil {
		return fmt.Errorf("build subscribe frame: %w", err)
	}
	return m.write(frame)
}

// Unsubscribe stops tracking the symbol and sends an unsubscribe frame when
// connected. Unsubscribing an untracked symbol is a no-op producing no wire
// frame; the wire-level unsubscribe is best-effort since a reconnect starts
// from a fresh provider-side state anyway.
func (m *Manager) Unsubscribe(symbol string) error {
	sub, ok := m.registry.Remove(symbol)
	if !ok {
		return nil
	}

	m.mu.Lock()
	ready := m.state == StateAuthenticated
	m.mu.Unlock()
	if !ready {
		return nil
	}

	frame, err := m.adapter.UnsubscribeFrame([]Subscription{sub})
	if err != nil {
		return fmt.Errorf("build unsubscribe frame: %w", err)
	}
	return m.write(frame)
}

// Subscriptions returns the tracked subscriptions in subscription order.
func (m *Manager) Subscriptions() []Subscription {
	return m.registry.Snapshot()
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.closing || m.state.live() {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	m.log.WithField("url", m.opts.URL).Info("connecting")

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		m.log.WithError(err).Warn("websocket open failed")
		m.handleFailure(fmt.Errorf("open %s: %w", m.opts.URL, err))
		return err
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.state = StateConnected
	m.lastErr = nil
	m.mu.Unlock()

	// A successful open resets the retry counter so a flaky but recovering
	// connection is not permanently penalized.
	m.policy.Reset()

	if m.adapter.RequiresAuth() {
		frame, err := m.adapter.AuthFrame()
		if err == nil {
			err = m.write(frame)
		}
		if err != nil {
			m.log.WithError(err).Error("failed to send auth frame")
			m.teardown(conn, gen, fmt.Errorf("auth frame: %w", err))
			return err
		}
		m.log.Debug("auth frame sent, awaiting acknowledgment")
	} else {
		m.onReady(gen)
	}

	m.startPing(conn, gen)

	m.wg.Add(1)
	go m.readLoop(conn, gen)

	metrics.Emit(nil, "feed."+m.adapter.Name(), "FeedConnected", 1, "counter", nil)
	return nil
}

// onReady marks the feed authenticated and replays the full subscription
// registry in one frame.
func (m *Manager) onReady(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.closing {
		m.mu.Unlock()
		return
	}
	m.state = StateAuthenticated
	m.mu.Unlock()

	subs := m.registry.Snapshot()
	m.log.WithField("subscriptions", len(subs)).Info("feed ready")
	if len(subs) == 0 {
		return
	}

	frame, err := m.adapter.SubscribeFrame(subs)
	if err != nil {
		m.log.WithError(err).Error("failed to build replay subscribe frame")
		return
	}
	if err := m.write(frame); err != nil {
		m.log.WithError(err).Warn("failed to replay subscriptions")
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	defer m.wg.Done()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClosure(conn, gen, err)
			return
		}
		m.routeFrame(raw)
	}
}

// routeFrame decodes one inbound frame and dispatches the resulting events
// in order. Malformed frames are logged and dropped without terminating the
// connection. Status events update connection state as a side channel and
// are never forwarded to listeners.
func (m *Manager) routeFrame(raw []byte) {
	events, err := m.adapter.Decode(raw)
	if err != nil {
		m.log.WithError(err).Warn("dropping malformed frame")
		return
	}

	for _, event := range events {
		switch {
		case event.Kind == models.KindStatus || event.Kind == models.KindError:
			m.handleStatus(event)
		case event.Kind == models.KindUnknown:
			m.log.WithField("feed", event.Feed).Debug("ignoring unknown message kind")
		default:
			m.fanout.Publish(event)
			if m.opts.Channels != nil {
				m.opts.Channels.SendEvent(context.Background(), event)
			}
			logger.IncrementFeedEvents(1)
		}
	}
}

func (m *Manager) handleStatus(event models.MarketEvent) {
	if event.Status == nil {
		return
	}

	m.mu.Lock()
	gen := m.gen
	conn := m.conn
	m.mu.Unlock()

	switch event.Status.Status {
	case models.StatusAuthSuccess:
		m.log.Info("authentication acknowledged")
		m.onReady(gen)
	case models.StatusAuthFailed:
		err := fmt.Errorf("authentication rejected: %s", event.Status.Message)
		m.log.WithError(err).Error("authentication failed")
		// A bad credential will not fix itself; no retry until a fresh
		// manual Connect.
		m.mu.Lock()
		m.closing = true
		m.stopPingLocked()
		m.state = StateError
		m.lastErr = err
		m.conn = nil
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	case models.StatusConnected:
		m.log.Debug("provider confirmed connection")
	default:
		m.log.WithField("status", event.Status.Status).Debug("provider status")
	}
}

// handleClosure reacts to a read error. Normal closures triggered by
// Disconnect never schedule a retry; unexpected closures consult the policy.
func (m *Manager) handleClosure(conn *websocket.Conn, gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.closing {
		// Stale loop from a previous connection or a manual disconnect.
		m.mu.Unlock()
		return
	}
	m.stopPingLocked()
	m.conn = nil
	m.mu.Unlock()
	conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.log.Info("connection closed normally by provider")
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}

	m.log.WithError(err).Warn("connection closed unexpectedly")
	m.handleFailure(err)
}

// handleFailure schedules the next reconnection attempt or, once the attempt
// ceiling is reached, transitions to the terminal failed state.
func (m *Manager) handleFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return
	}

	m.lastErr = err

	delay, ok := m.policy.Next()
	if !ok {
		m.state = StateFailed
		m.log.WithError(err).WithField("attempts", m.policy.Attempts()).Error("retry ceiling reached, giving up")
		metrics.Emit(nil, "feed."+m.adapter.Name(), "FeedFailed", 1, "counter", nil)
		return
	}

	m.state = StateError
	attempt := m.policy.Attempts()
	m.log.WithFields(logger.Fields{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Warn("scheduling reconnection")

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.mu.Unlock()
		_ = m.dial(context.Background())
	})
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) stopPingLocked() {
	if m.pingCancel != nil {
		m.pingCancel()
		m.pingCancel = nil
	}
}

// teardown closes the connection after a fatal setup error and consults the
// retry policy.
func (m *Manager) teardown(conn *websocket.Conn, gen uint64, err error) {
	m.mu.Lock()
	if m.gen == gen {
		m.conn = nil
		m.stopPingLocked()
	}
	m.mu.Unlock()
	conn.Close()
	m.handleFailure(err)
}

func (m *Manager) startPing(conn *websocket.Conn, gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		cancel()
		return
	}
	m.pingCancel = cancel
	m.mu.Unlock()

	ticker := time.NewTicker(m.opts.PingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					m.log.WithError(err).Debug("keepalive ping failed")
					return
				}
			}
		}
	}()
}

func (m *Manager) write(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("feed %s: not connected", m.adapter.Name())
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
