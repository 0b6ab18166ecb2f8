package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"queue-sync/src/booking"
	"queue-sync/src/clock"
	"queue-sync/src/connection"
	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/metrics"
	"queue-sync/src/models"
	"queue-sync/src/store"
	"queue-sync/src/utils"

	"golang.org/x/time/rate"
)

const previewTimeout = 15 * time.Second

// Deps are the collaborators of a BookingSession. Dialer and API are
// required; the rest are optional.
type Deps struct {
	Dialer       interfaces.IChannelDialer
	API          interfaces.IBookingAPI
	Cache        interfaces.IPreviewCache
	Journal      interfaces.IReservationJournal
	Metrics      *metrics.Metrics
	Clock        clock.Clock
	Reconnect    connection.Settings
	Limiter      *rate.Limiter
	Location     *time.Location
	EventLogSize int
}

// -----------------------------------------------------------------------------
// BookingSession
// -----------------------------------------------------------------------------

// BookingSession ties the connection manager, the queue state store and the
// booking controller together for one business. Selection changes drive the
// live subscription; channel pushes flow into the store.
type BookingSession struct {
	Logger *logger.Logger

	businessID string
	store      *store.QueueStateStore
	conn       *connection.ConnectionManager
	ctrl       *booking.Controller
	journal    interfaces.IReservationJournal
	metrics    *metrics.Metrics
	clock      clock.Clock
	events     *utils.EventLog

	// selMu orders selection writes with the subscription they imply.
	selMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// -----------------------------------------------------------------------------

func NewBookingSession(businessID string, deps Deps, log *logger.Logger) *BookingSession {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &BookingSession{
		Logger:     log,
		businessID: businessID,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		events:     utils.NewEventLog(deps.EventLogSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.store = store.NewQueueStateStore(businessID, deps.Location, log.Named("store"))
	s.conn = connection.NewConnectionManager(deps.Dialer, s, deps.Clock, deps.Reconnect, log.Named("connection"))
	s.ctrl = booking.NewController(s.store, deps.API, booking.Options{
		Cache:   deps.Cache,
		Journal: deps.Journal,
		Metrics: deps.Metrics,
		Clock:   deps.Clock,
		Limiter: deps.Limiter,
	}, log.Named("booking"))

	s.conn.OnTransition(s.onTransition)
	if s.metrics != nil {
		s.conn.OnTransition(s.metrics.ObserveTransition)
		s.store.Watch(s.metrics.ObserveView)
	}

	return s
}

// -----------------------------------------------------------------------------

func (s *BookingSession) onTransition(ev models.MConnectionEvent, health models.MConnectionHealth) {
	s.events.Append(ev)
	s.store.SetConnectionHealth(health)
}

// -----------------------------------------------------------------------------
// Channel sink
// -----------------------------------------------------------------------------

// HandleMessage receives forwarded channel messages in arrival order.
func (s *BookingSession) HandleMessage(key models.MTopicKey, msg models.MChannelMessage) {
	if s.metrics != nil {
		s.metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()
	}

	if !msg.IsSnapshot() {
		s.Logger.Debug("Received %s on %s", msg.Type, key)
		return
	}

	var snapshot models.MQueueSnapshot
	if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
		s.Logger.Warning("Dropping undecodable %s on %s: %v", msg.Type, key, err)
		return
	}
	snapshot.ReceivedAt = s.clock.Now()

	if s.store.ApplySnapshot(key, &snapshot) && s.metrics != nil {
		s.metrics.SnapshotsApplied.Inc()
	}
}

// -----------------------------------------------------------------------------
// User actions
// -----------------------------------------------------------------------------

// SetSelection applies a partial selection. A new date moves the live
// subscription; a newly complete selection loads a preview in the background.
func (s *BookingSession) SetSelection(patch models.MSelectionPatch) store.SelectionChange {
	s.selMu.Lock()
	defer s.selMu.Unlock()

	change := s.store.SetSelection(patch)

	if change.DateChanged {
		if change.Current.Date == "" {
			s.store.SetActiveKey(models.MTopicKey{})
			s.conn.Unsubscribe()
		} else {
			key := models.MTopicKey{BusinessID: s.businessID, Date: change.Current.Date}
			s.store.SetActiveKey(key)
			s.conn.Subscribe(key)
		}
	}

	if (change.DateChanged || change.ServicesChanged) && change.Current.Complete() {
		s.loadPreviewAsync()
	}
	return change
}

// -----------------------------------------------------------------------------

func (s *BookingSession) loadPreviewAsync() {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, previewTimeout)
		defer cancel()
		if _, err := s.ctrl.LoadPreview(ctx); err != nil && s.ctx.Err() == nil {
			s.Logger.Warning("Preview load failed: %v", err)
		}
	}()
}

// -----------------------------------------------------------------------------

// Refresh asks the server to re-push the snapshot and fetches fresh
// estimates. The channel message is advisory and dropped when not open.
func (s *BookingSession) Refresh(ctx context.Context) (*models.MBookingPreview, error) {
	if err := s.conn.Send(models.MChannelMessage{Type: models.MessageRefresh}); err != nil {
		s.Logger.Debug("Refresh message not sent: %v", err)
	}
	return s.ctrl.RefreshEstimates(ctx)
}

// -----------------------------------------------------------------------------

// Reconnect is the manual retry after live updates failed.
func (s *BookingSession) Reconnect() error {
	return s.conn.Retry()
}

// -----------------------------------------------------------------------------

func (s *BookingSession) Submit(ctx context.Context) (*models.MReservation, error) {
	return s.ctrl.Submit(ctx)
}

// -----------------------------------------------------------------------------

func (s *BookingSession) DismissReservation() {
	s.ctrl.DismissReservation()
}

// -----------------------------------------------------------------------------

// Leave ends the attempt: selection and reservation are cleared and the
// channel is released. The last snapshot is kept.
func (s *BookingSession) Leave() {
	s.selMu.Lock()
	defer s.selMu.Unlock()

	s.store.Clear()
	s.conn.Unsubscribe()
}

// -----------------------------------------------------------------------------

// Close releases the channel, waits for background work and detaches the
// store so late results are dropped.
func (s *BookingSession) Close() {
	s.once.Do(func() {
		s.cancel()
		s.selMu.Lock()
		s.conn.Close()
		s.selMu.Unlock()
		s.wg.Wait()
		s.store.Detach()
	})
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// OnTransition registers an extra observer of connection phase changes.
func (s *BookingSession) OnTransition(fn connection.TransitionFunc) {
	s.conn.OnTransition(fn)
}

func (s *BookingSession) View() models.MSessionView {
	return s.store.View("INITIAL")
}

func (s *BookingSession) Watch(fn func(models.MSessionView)) func() {
	return s.store.Watch(fn)
}

func (s *BookingSession) ConnectionHealth() models.MConnectionHealth {
	return s.conn.State()
}

// Events returns the last n connection transitions, oldest first.
func (s *BookingSession) Events(n int) []models.MConnectionEvent {
	if n <= 0 {
		return s.events.GetAll()
	}
	return s.events.GetLatest(n)
}

// Reservations lists journaled outcomes for this business, newest first.
func (s *BookingSession) Reservations(ctx context.Context, limit int) ([]models.MReservation, error) {
	if s.journal == nil {
		return []models.MReservation{}, nil
	}
	return s.journal.ListReservations(ctx, s.businessID, limit)
}

func (s *BookingSession) BusinessID() string {
	return s.businessID
}

// Store exposes the underlying store for read-only consumers.
func (s *BookingSession) Store() *store.QueueStateStore {
	return s.store
}
