package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"queue-sync/src/clock"
	"queue-sync/src/helpers"
	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/models"
)

// ErrNotOpen is returned by Send when no channel is open. The message is
// dropped; there is no outbound queue.
var ErrNotOpen = errors.New("channel is not open")

// ErrNothingToRetry is returned by Retry when there is no failed or pending
// subscription.
var ErrNothingToRetry = errors.New("no subscription to retry")

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

type Settings struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// SettingsFromConfig reads the reconnect section.
func SettingsFromConfig(cfg *models.MConfig) Settings {
	return Settings{
		InitialDelay: time.Duration(cfg.Reconnect.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Reconnect.MaxDelayMs) * time.Millisecond,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
	}
}

// TransitionFunc observes state-machine transitions. It is called with the
// manager lock held, in transition order, and must not call back into the
// manager.
type TransitionFunc func(ev models.MConnectionEvent, health models.MConnectionHealth)

// -----------------------------------------------------------------------------
// handle: the live state for one subscription
// -----------------------------------------------------------------------------

type handle struct {
	key     models.MTopicKey
	gen     uint64
	phase   models.ConnectionPhase
	attempt int
	lastErr string
	failed  bool

	cancel  context.CancelFunc
	timer   clock.Timer
	channel interfaces.IChannel
	writeMu sync.Mutex
}

func (h *handle) live() bool {
	switch h.phase {
	case models.PhaseConnecting, models.PhaseOpen, models.PhaseReconnecting:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// ConnectionManager
// -----------------------------------------------------------------------------

// ConnectionManager owns at most one live channel, keyed by (business, date).
// It reconnects with capped exponential backoff and forwards inbound
// messages to its sink. It knows nothing about bookings.
type ConnectionManager struct {
	Logger *logger.Logger

	dialer   interfaces.IChannelDialer
	sink     interfaces.IMessageSink
	clock    clock.Clock
	settings Settings

	mu        sync.Mutex
	current   *handle
	closing   []interfaces.IChannel
	nextGen   uint64
	observers []TransitionFunc
}

// -----------------------------------------------------------------------------

func NewConnectionManager(dialer interfaces.IChannelDialer, sink interfaces.IMessageSink, clk clock.Clock, settings Settings, log *logger.Logger) *ConnectionManager {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if settings.InitialDelay <= 0 {
		settings.InitialDelay = time.Second
	}
	if settings.MaxDelay < settings.InitialDelay {
		settings.MaxDelay = settings.InitialDelay
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 5
	}

	return &ConnectionManager{
		Logger:   log,
		dialer:   dialer,
		sink:     sink,
		clock:    clk,
		settings: settings,
	}
}

// -----------------------------------------------------------------------------

// OnTransition registers an observer for every phase change.
func (m *ConnectionManager) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Public operations
// -----------------------------------------------------------------------------

// Subscribe opens a channel for key. Calling it again with the same key while
// the subscription is connecting, open or reconnecting does nothing. A
// different key tears down the previous channel first. An empty key only
// releases the current subscription.
func (m *ConnectionManager) Subscribe(key models.MTopicKey) {
	m.mu.Lock()
	defer m.unlock()

	if key.IsZero() {
		m.releaseLocked()
		return
	}

	if h := m.current; h != nil && h.key == key && h.live() {
		return
	}
	m.releaseLocked()
	m.subscribeLocked(key)
}

// -----------------------------------------------------------------------------

// Unsubscribe tears down the current channel, cancels any pending handshake
// and backoff timer, and moves to Closed. Safe to call at any time.
func (m *ConnectionManager) Unsubscribe() {
	m.mu.Lock()
	defer m.unlock()
	m.releaseLocked()
}

// -----------------------------------------------------------------------------

// Retry is the user's manual reconnect. After a persistent failure it
// re-subscribes the last key with a fresh attempt counter; while waiting out
// a backoff delay it dials immediately.
func (m *ConnectionManager) Retry() error {
	m.mu.Lock()
	defer m.unlock()

	h := m.current
	if h == nil {
		return ErrNothingToRetry
	}

	switch {
	case h.phase == models.PhaseClosed && h.failed:
		m.Logger.Info("Manual retry for %s", h.key)
		m.subscribeLocked(h.key)
		return nil
	case h.phase == models.PhaseReconnecting:
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		m.dialLocked(h)
		return nil
	case h.phase == models.PhaseConnecting || h.phase == models.PhaseOpen:
		return nil
	}
	return ErrNothingToRetry
}

// -----------------------------------------------------------------------------

// Send writes msg on the open channel. Outside Open the message is dropped
// and ErrNotOpen returned.
func (m *ConnectionManager) Send(msg models.MChannelMessage) error {
	m.mu.Lock()
	h := m.current
	if h == nil || h.phase != models.PhaseOpen || h.channel == nil {
		m.mu.Unlock()
		return ErrNotOpen
	}
	ch := h.channel
	m.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return writeTo(h, ch, data)
}

// -----------------------------------------------------------------------------

// State reports the current key, phase, retry counter and last error.
func (m *ConnectionManager) State() models.MConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthLocked()
}

// -----------------------------------------------------------------------------

// Close releases the subscription. The manager stays usable.
func (m *ConnectionManager) Close() {
	m.Unsubscribe()
}

// -----------------------------------------------------------------------------
// State machine (all *Locked methods require m.mu)
// -----------------------------------------------------------------------------

func (m *ConnectionManager) subscribeLocked(key models.MTopicKey) {
	m.nextGen++
	h := &handle{key: key, gen: m.nextGen, phase: models.PhaseIdle}
	m.current = h
	m.Logger.Info("Subscribing to %s", key)
	m.dialLocked(h)
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) dialLocked(h *handle) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	m.transitionLocked(h, models.PhaseConnecting, 0)

	gen, key := h.gen, h.key
	go func() {
		ch, err := m.dialer.Dial(ctx, key)
		m.onDialResult(gen, ch, err)
	}()
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) onDialResult(gen uint64, ch interfaces.IChannel, err error) {
	m.mu.Lock()
	defer m.unlock()

	h := m.current
	if h == nil || h.gen != gen || h.phase != models.PhaseConnecting {
		// superseded while dialing
		if ch != nil {
			m.discardLocked(ch)
		}
		return
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}

	if err != nil {
		m.Logger.Warning("Connect to %s failed: %v", h.key, err)
		m.scheduleRetryLocked(h, err)
		return
	}

	h.channel = ch
	h.attempt = 0
	h.lastErr = ""
	m.transitionLocked(h, models.PhaseOpen, 0)
	m.Logger.Info("Channel open for %s", h.key)

	go m.readLoop(h, ch)
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) onChannelError(h *handle, ch interfaces.IChannel, err error) {
	m.mu.Lock()
	defer m.unlock()

	if m.current != h || h.channel != ch || h.phase != models.PhaseOpen {
		return
	}
	m.discardLocked(ch)
	h.channel = nil

	m.Logger.Warning("Channel for %s lost: %v", h.key, err)
	m.scheduleRetryLocked(h, err)
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) scheduleRetryLocked(h *handle, cause error) {
	h.attempt++
	h.lastErr = cause.Error()

	if h.attempt > m.settings.MaxAttempts {
		h.failed = true
		m.transitionLocked(h, models.PhaseClosed, 0)
		m.Logger.Error("Giving up on %s after %d reconnect attempts: %s", h.key, m.settings.MaxAttempts, h.lastErr)
		return
	}

	delay := helpers.Backoff(h.attempt, m.settings.InitialDelay, m.settings.MaxDelay)
	m.transitionLocked(h, models.PhaseReconnecting, delay)

	gen := h.gen
	h.timer = m.clock.AfterFunc(delay, func() { m.onBackoffElapsed(gen) })
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) onBackoffElapsed(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.current
	if h == nil || h.gen != gen || h.phase != models.PhaseReconnecting {
		return
	}
	h.timer = nil
	m.dialLocked(h)
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) releaseLocked() {
	h := m.current
	if h == nil || h.phase == models.PhaseClosed {
		return
	}

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.channel != nil {
		m.discardLocked(h.channel)
		h.channel = nil
	}
	h.failed = false
	h.lastErr = ""
	m.transitionLocked(h, models.PhaseClosed, 0)
	m.Logger.Info("Unsubscribed from %s", h.key)
}

// -----------------------------------------------------------------------------

// discardLocked detaches ch for closing once m.mu is released. Closing writes
// a close frame, which can stall on a dead peer.
func (m *ConnectionManager) discardLocked(ch interfaces.IChannel) {
	m.closing = append(m.closing, ch)
}

// unlock releases m.mu and then closes the channels discarded under it.
func (m *ConnectionManager) unlock() {
	pending := m.closing
	m.closing = nil
	m.mu.Unlock()
	for _, ch := range pending {
		_ = ch.Close()
	}
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) transitionLocked(h *handle, to models.ConnectionPhase, delay time.Duration) {
	from := h.phase
	h.phase = to

	ev := models.MConnectionEvent{
		Key:     h.key,
		From:    from,
		To:      to,
		Attempt: h.attempt,
		Delay:   delay,
		Error:   h.lastErr,
		At:      m.clock.Now(),
	}
	health := m.healthLocked()
	for _, fn := range m.observers {
		fn(ev, health)
	}
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) healthLocked() models.MConnectionHealth {
	h := m.current
	if h == nil {
		return models.MConnectionHealth{Phase: models.PhaseIdle, Status: models.HealthDisconnected}
	}

	health := models.MConnectionHealth{
		Key:     h.key,
		Phase:   h.phase,
		Attempt: h.attempt,
		Error:   h.lastErr,
	}
	switch h.phase {
	case models.PhaseConnecting:
		health.Status = models.HealthConnecting
	case models.PhaseOpen:
		health.Status = models.HealthConnected
	case models.PhaseReconnecting:
		health.Status = models.HealthReconnecting
	case models.PhaseClosed:
		if h.failed {
			health.Status = models.HealthFailed
		} else {
			health.Status = models.HealthDisconnected
		}
	default:
		health.Status = models.HealthDisconnected
	}
	return health
}

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

// readLoop is the only reader of ch, so messages reach the sink in arrival
// order.
func (m *ConnectionManager) readLoop(h *handle, ch interfaces.IChannel) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			m.onChannelError(h, ch, err)
			return
		}

		if !m.stillCurrent(h, ch) {
			return
		}

		var msg models.MChannelMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.Logger.Warning("Dropping malformed message on %s: %v", h.key, err)
			continue
		}

		switch {
		case msg.Type == models.MessagePing:
			pong, _ := json.Marshal(models.MChannelMessage{Type: models.MessagePong})
			if err := writeTo(h, ch, pong); err != nil {
				m.Logger.Debug("Failed to answer ping on %s: %v", h.key, err)
			}
		case msg.IsKnownInbound():
			if m.sink != nil {
				m.sink.HandleMessage(h.key, msg)
			}
		default:
			m.Logger.Debug("Dropping unknown message type %q on %s", msg.Type, h.key)
		}
	}
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) stillCurrent(h *handle, ch interfaces.IChannel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == h && h.channel == ch && h.phase == models.PhaseOpen
}

// -----------------------------------------------------------------------------

func writeTo(h *handle, ch interfaces.IChannel, data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return ch.WriteMessage(data)
}
