package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"queue-sync/src/clock"
	"queue-sync/src/interfaces"
	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeChannel struct {
	inbound chan []byte
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
	once    sync.Once

	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeChannel) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	c.mu.Lock()
	gate := c.closeGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) writtenTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, w := range c.written {
		var msg models.MChannelMessage
		_ = json.Unmarshal(w, &msg)
		out = append(out, msg.Type)
	}
	return out
}

func (c *fakeChannel) push(t *testing.T, msgType string, data interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	c.inbound <- raw
}

// fakeDialer fails the first `failures` dials, then hands out fresh channels.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    []models.MTopicKey
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(ctx context.Context, key models.MTopicKey) (interfaces.IChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, key)
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, errors.New("connection refused")
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []models.MChannelMessage
	keys []models.MTopicKey
}

func (s *recordingSink) HandleMessage(key models.MTopicKey, msg models.MChannelMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.msgs = append(s.msgs, msg)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.msgs {
		out = append(out, m.Type)
	}
	return out
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

var (
	keyA = models.MTopicKey{BusinessID: "b1", Date: "2025-06-01"}
	keyB = models.MTopicKey{BusinessID: "b1", Date: "2025-06-02"}
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(dialer *fakeDialer, sink interfaces.IMessageSink, maxAttempts int) (*ConnectionManager, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	m := NewConnectionManager(dialer, sink, clk, Settings{
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		MaxAttempts:  maxAttempts,
	}, nil)
	return m, clk
}

func phaseIs(m *ConnectionManager, phase models.ConnectionPhase, attempt int) func() bool {
	return func() bool {
		s := m.State()
		return s.Phase == phase && s.Attempt == attempt
	}
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestBackoffSequenceAndGiveUp(t *testing.T) {
	dialer := &fakeDialer{failures: -1}
	m, clk := newTestManager(dialer, nil, 5)

	var mu sync.Mutex
	var statuses []string
	m.OnTransition(func(_ models.MConnectionEvent, h models.MConnectionHealth) {
		mu.Lock()
		statuses = append(statuses, h.Status)
		mu.Unlock()
	})

	m.Subscribe(keyA)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, delay := range want {
		attempt := i + 1
		waitFor(t, "reconnecting", phaseIs(m, models.PhaseReconnecting, attempt))

		got, ok := clk.NextDeadline()
		if !ok || got != delay {
			t.Fatalf("attempt %d: delay = %v (pending %v), want %v", attempt, got, ok, delay)
		}
		clk.Advance(delay)
	}

	waitFor(t, "give up", func() bool { return m.State().Status == models.HealthFailed })

	state := m.State()
	if state.Phase != models.PhaseClosed || !state.Persistent() || state.Error == "" {
		t.Fatalf("final state = %+v", state)
	}
	if n := dialer.dialCount(); n != 6 {
		t.Fatalf("dials = %d, want 6 (initial + 5 retries)", n)
	}
	if clk.Pending() != 0 {
		t.Fatal("timer left pending after giving up")
	}

	mu.Lock()
	defer mu.Unlock()
	if statuses[len(statuses)-1] != models.HealthFailed {
		t.Fatalf("last status = %s", statuses[len(statuses)-1])
	}
}

func TestAttemptCounterResetsOnOpen(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	m, clk := newTestManager(dialer, nil, 5)

	m.Subscribe(keyA)
	waitFor(t, "first retry", phaseIs(m, models.PhaseReconnecting, 1))
	clk.Advance(time.Second)
	waitFor(t, "second retry", phaseIs(m, models.PhaseReconnecting, 2))
	clk.Advance(2 * time.Second)
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))

	if m.State().Status != models.HealthConnected {
		t.Fatalf("status = %s", m.State().Status)
	}

	// server drops the connection; backoff starts again from the initial delay
	close(dialer.channel(0).inbound)
	waitFor(t, "reconnecting after drop", phaseIs(m, models.PhaseReconnecting, 1))

	if d, _ := clk.NextDeadline(); d != time.Second {
		t.Fatalf("delay after reset = %v, want 1s", d)
	}
	clk.Advance(time.Second)
	waitFor(t, "reopened", phaseIs(m, models.PhaseOpen, 0))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(dialer, nil, 5)

	m.Subscribe(keyA)
	m.Subscribe(keyA)
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))
	m.Subscribe(keyA)

	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestSubscribeNewKeyReplacesChannel(t *testing.T) {
	dialer := &fakeDialer{}
	sink := &recordingSink{}
	m, _ := newTestManager(dialer, sink, 5)

	m.Subscribe(keyA)
	waitFor(t, "open A", phaseIs(m, models.PhaseOpen, 0))
	first := dialer.channel(0)

	m.Subscribe(keyB)
	waitFor(t, "open B", func() bool {
		s := m.State()
		return s.Key == keyB && s.Phase == models.PhaseOpen
	})

	if !first.isClosed() {
		t.Fatal("channel for the previous key left open")
	}

	second := dialer.channel(1)
	second.push(t, models.MessageQueueUpdate, map[string]string{"date": keyB.Date})
	waitFor(t, "forwarded", func() bool { return len(sink.types()) == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.keys[0] != keyB {
		t.Fatalf("message tagged %s, want %s", sink.keys[0], keyB)
	}
}

func TestInboundHandling(t *testing.T) {
	dialer := &fakeDialer{}
	sink := &recordingSink{}
	m, _ := newTestManager(dialer, sink, 5)

	m.Subscribe(keyA)
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))
	ch := dialer.channel(0)

	ch.push(t, models.MessageInitialState, map[string]int{"n": 1})
	ch.push(t, models.MessagePing, nil)
	ch.push(t, "mystery", nil)
	ch.inbound <- []byte("{not json")
	ch.push(t, models.MessageQueueUpdate, map[string]int{"n": 2})
	ch.push(t, models.MessagePong, nil)

	waitFor(t, "forwarded messages", func() bool { return len(sink.types()) == 3 })

	got := sink.types()
	want := []string{models.MessageInitialState, models.MessageQueueUpdate, models.MessagePong}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("forwarded %v, want %v", got, want)
		}
	}

	sink.mu.Lock()
	if string(sink.msgs[1].Data) != `{"n":2}` {
		t.Errorf("payload altered: %s", sink.msgs[1].Data)
	}
	sink.mu.Unlock()

	waitFor(t, "pong", func() bool {
		w := ch.writtenTypes()
		return len(w) == 1 && w[0] == models.MessagePong
	})

	if m.State().Phase != models.PhaseOpen {
		t.Fatal("malformed or unknown messages disturbed the channel")
	}
}

func TestUnsubscribeDuringBackoffCancelsTimer(t *testing.T) {
	dialer := &fakeDialer{failures: -1}
	m, clk := newTestManager(dialer, nil, 5)

	m.Subscribe(keyA)
	waitFor(t, "reconnecting", phaseIs(m, models.PhaseReconnecting, 1))

	m.Unsubscribe()
	if clk.Pending() != 0 {
		t.Fatal("backoff timer still pending after unsubscribe")
	}
	state := m.State()
	if state.Phase != models.PhaseClosed || state.Status != models.HealthDisconnected {
		t.Fatalf("state after unsubscribe = %+v", state)
	}

	before := dialer.dialCount()
	clk.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if dialer.dialCount() != before {
		t.Fatal("dial after unsubscribe")
	}

	// idempotent
	m.Unsubscribe()
}

func TestUnsubscribeClosesOpenChannel(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(dialer, nil, 5)

	m.Subscribe(keyA)
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))
	m.Unsubscribe()

	if !dialer.channel(0).isClosed() {
		t.Fatal("channel not closed")
	}
	if m.State().Phase != models.PhaseClosed {
		t.Fatal("not closed")
	}
}

func TestSlowCloseDoesNotHoldTheManager(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(dialer, nil, 5)

	m.Subscribe(keyA)
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))

	ch := dialer.channel(0)
	gate := make(chan struct{})
	ch.mu.Lock()
	ch.closeGate = gate
	ch.mu.Unlock()

	unsubscribed := make(chan struct{})
	go func() {
		m.Unsubscribe()
		close(unsubscribed)
	}()
	waitFor(t, "close started", ch.isClosed)

	stateRead := make(chan models.MConnectionHealth, 1)
	go func() { stateRead <- m.State() }()
	select {
	case state := <-stateRead:
		if state.Phase != models.PhaseClosed {
			t.Fatalf("phase = %s while close is pending", state.Phase)
		}
	case <-time.After(time.Second):
		t.Fatal("State blocked behind a pending channel close")
	}

	m.Subscribe(keyB)
	waitFor(t, "open on new key", func() bool {
		s := m.State()
		return s.Key == keyB && s.Phase == models.PhaseOpen
	})

	close(gate)
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe did not return after close finished")
	}
}

func TestSendOnlyWhileOpen(t *testing.T) {
	dialer := &fakeDialer{failures: 1}
	m, clk := newTestManager(dialer, nil, 5)

	if err := m.Send(models.MChannelMessage{Type: models.MessageRefresh}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("idle send err = %v", err)
	}

	m.Subscribe(keyA)
	waitFor(t, "reconnecting", phaseIs(m, models.PhaseReconnecting, 1))
	if err := m.Send(models.MChannelMessage{Type: models.MessageRefresh}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("reconnecting send err = %v", err)
	}

	clk.Advance(time.Second)
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))
	if err := m.Send(models.MChannelMessage{Type: models.MessageRefresh}); err != nil {
		t.Fatalf("open send err = %v", err)
	}

	w := dialer.channel(0).writtenTypes()
	if len(w) != 1 || w[0] != models.MessageRefresh {
		t.Fatalf("written = %v, dropped messages must not be queued", w)
	}
}

func TestRetryAfterPersistentFailure(t *testing.T) {
	dialer := &fakeDialer{failures: -1}
	m, clk := newTestManager(dialer, nil, 1)

	m.Subscribe(keyA)
	waitFor(t, "reconnecting", phaseIs(m, models.PhaseReconnecting, 1))
	clk.Advance(time.Second)
	waitFor(t, "failed", func() bool { return m.State().Status == models.HealthFailed })

	dialer.setFailures(0)
	if err := m.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))

	m.Unsubscribe()
	if err := m.Retry(); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("Retry after unsubscribe err = %v", err)
	}
}

func TestRetrySkipsPendingBackoff(t *testing.T) {
	dialer := &fakeDialer{failures: 1}
	m, clk := newTestManager(dialer, nil, 5)

	m.Subscribe(keyA)
	waitFor(t, "reconnecting", phaseIs(m, models.PhaseReconnecting, 1))

	if err := m.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))
	if clk.Pending() != 0 {
		t.Fatal("stopped timer still pending")
	}
}

func TestTransitionEventsAreOrdered(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(dialer, nil, 5)

	var mu sync.Mutex
	var phases []models.ConnectionPhase
	m.OnTransition(func(ev models.MConnectionEvent, _ models.MConnectionHealth) {
		mu.Lock()
		phases = append(phases, ev.To)
		mu.Unlock()
	})

	m.Subscribe(keyA)
	waitFor(t, "open", phaseIs(m, models.PhaseOpen, 0))
	m.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	want := []models.ConnectionPhase{models.PhaseConnecting, models.PhaseOpen, models.PhaseClosed}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}
