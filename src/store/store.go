package store

import (
	"sync"
	"time"

	"queue-sync/src/logger"
	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// QueueStateStore
// -----------------------------------------------------------------------------

// QueueStateStore is the single source of truth for one booking session:
// the user's selection, the latest pushed snapshot, the booking outcome and
// the connection health. Every write holds the writer lock for its whole
// duration, so readers never see a half-applied snapshot or patch.
type QueueStateStore struct {
	Logger *logger.Logger

	mu          sync.RWMutex
	businessID  string
	loc         *time.Location
	activeKey   models.MTopicKey
	snapshot    *models.MQueueSnapshot
	selection   models.MSelection
	reservation *models.MReservation
	preview     *models.MBookingPreview
	health      models.MConnectionHealth
	generation  uint64
	version     uint64
	detached    bool

	watchers    map[int]func(models.MSessionView)
	nextWatcher int
}

// SelectionChange describes what a SetSelection call did.
type SelectionChange struct {
	Previous        models.MSelection
	Current         models.MSelection
	DateChanged     bool
	ServicesChanged bool
	QueueCleared    bool
	// QueueIgnored is set when the patch named a queue together with a new
	// date or service set. The queue is not applied; send it again once the
	// new options are known.
	QueueIgnored bool
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewQueueStateStore(businessID string, loc *time.Location, log *logger.Logger) *QueueStateStore {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &QueueStateStore{
		Logger:     log,
		businessID: businessID,
		loc:        loc,
		health: models.MConnectionHealth{
			Phase:  models.PhaseIdle,
			Status: models.HealthDisconnected,
		},
		watchers: make(map[int]func(models.MSessionView)),
	}
}

// -----------------------------------------------------------------------------
// Writers
// -----------------------------------------------------------------------------

// SetActiveKey records the topic the live channel is subscribed to. Snapshots
// for any other key are ignored from now on; a snapshot from the previous
// key is dropped.
func (s *QueueStateStore) SetActiveKey(key models.MTopicKey) {
	s.write(func() bool {
		if s.activeKey == key {
			return false
		}
		s.activeKey = key
		if s.snapshot != nil && s.snapshot.Key() != key {
			s.snapshot = nil
		}
		return true
	})
}

// -----------------------------------------------------------------------------

// ApplySnapshot replaces the stored snapshot wholesale. Snapshots from a key
// other than the active one come from a stale connection and are ignored.
//
// If the selected queue is missing from a snapshot for the selected date,
// the queue choice is cleared.
func (s *QueueStateStore) ApplySnapshot(key models.MTopicKey, snapshot *models.MQueueSnapshot) bool {
	if snapshot == nil {
		return false
	}
	applied := false
	s.write(func() bool {
		if key != s.activeKey {
			s.Logger.Debug("Ignoring snapshot for stale key %s (active %s)", key, s.activeKey)
			return false
		}

		next := snapshot.Clone()
		next.BusinessID = key.BusinessID
		next.Date = key.Date
		s.snapshot = next

		if s.selection.HasQueue() && s.selection.Date == next.Date && next.FindQueue(*s.selection.QueueID) == nil {
			s.Logger.Info("Selected queue %s vanished from snapshot, clearing choice", *s.selection.QueueID)
			s.selection.QueueID = nil
		}
		applied = true
		return true
	})
	return applied
}

// -----------------------------------------------------------------------------

// SetSelection merges a partial update. Changing the date or the service set
// always clears the queue choice; changing only the queue touches nothing
// else.
func (s *QueueStateStore) SetSelection(patch models.MSelectionPatch) SelectionChange {
	var change SelectionChange
	s.write(func() bool {
		prev := s.selection.Clone()
		next := s.selection.Clone()

		if patch.Date != nil && *patch.Date != next.Date {
			next.Date = *patch.Date
			change.DateChanged = true
		}
		if patch.ServiceIDs != nil {
			ids := models.NormalizeServiceIDs(patch.ServiceIDs)
			if !models.SameServiceSet(ids, next.ServiceIDs) {
				change.ServicesChanged = true
			}
			next.ServiceIDs = ids
		}

		if change.DateChanged || change.ServicesChanged {
			if next.QueueID != nil {
				change.QueueCleared = true
			}
			next.QueueID = nil
			change.QueueIgnored = patch.QueueID != nil && *patch.QueueID != ""
		} else if patch.QueueID != nil {
			if *patch.QueueID == "" {
				next.QueueID = nil
			} else {
				id := *patch.QueueID
				next.QueueID = &id
			}
		}

		s.selection = next
		change.Previous = prev
		change.Current = next.Clone()
		return true
	})
	return change
}

// -----------------------------------------------------------------------------

// Clear resets selection, reservation and preview. The live snapshot stays so
// a new attempt for the same business and date needs no fresh push.
func (s *QueueStateStore) Clear() {
	s.write(func() bool {
		s.selection = models.MSelection{}
		s.reservation = nil
		s.preview = nil
		s.generation++
		return true
	})
}

// -----------------------------------------------------------------------------

// SetReservationIfCurrent stores a booking outcome unless the store was
// cleared or detached since gen was taken.
func (s *QueueStateStore) SetReservationIfCurrent(gen uint64, r *models.MReservation) bool {
	stored := false
	s.write(func() bool {
		if gen != s.generation {
			s.Logger.Debug("Dropping reservation from generation %d (now %d)", gen, s.generation)
			return false
		}
		cp := *r
		s.reservation = &cp
		stored = true
		return true
	})
	return stored
}

// -----------------------------------------------------------------------------

// DismissReservation clears the outcome and keeps the selection.
func (s *QueueStateStore) DismissReservation() {
	s.write(func() bool {
		if s.reservation == nil {
			return false
		}
		s.reservation = nil
		return true
	})
}

// -----------------------------------------------------------------------------

// SetPreviewIfCurrent stores a preview if the store generation is unchanged
// and the preview still matches the selected date and services.
func (s *QueueStateStore) SetPreviewIfCurrent(gen uint64, p *models.MBookingPreview) bool {
	stored := false
	s.write(func() bool {
		if gen != s.generation {
			return false
		}
		if p.Date != s.selection.Date || !models.SameServiceSet(p.ServiceIDs, s.selection.ServiceIDs) {
			s.Logger.Debug("Dropping preview for %s, selection moved on", p.Date)
			return false
		}
		cp := *p
		cp.Queues = append([]models.MQueueOption(nil), p.Queues...)
		s.preview = &cp
		stored = true
		return true
	})
	return stored
}

// -----------------------------------------------------------------------------

// SetConnectionHealth records the manager's health signal.
func (s *QueueStateStore) SetConnectionHealth(h models.MConnectionHealth) {
	s.write(func() bool {
		if s.health == h {
			return false
		}
		s.health = h
		return true
	})
}

// -----------------------------------------------------------------------------

// Detach marks the store as no longer observed. Later writes are dropped and
// watchers are released.
func (s *QueueStateStore) Detach() {
	s.mu.Lock()
	s.detached = true
	s.generation++
	s.watchers = make(map[int]func(models.MSessionView))
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Readers
// -----------------------------------------------------------------------------

// DeriveOptions returns the current actionable options.
func (s *QueueStateStore) DeriveOptions() []models.MQueueOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DeriveOptions(s.snapshot, s.selection, s.loc)
}

func (s *QueueStateStore) Selection() models.MSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection.Clone()
}

func (s *QueueStateStore) Snapshot() *models.MQueueSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

func (s *QueueStateStore) Reservation() *models.MReservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reservation == nil {
		return nil
	}
	cp := *s.reservation
	return &cp
}

func (s *QueueStateStore) Preview() *models.MBookingPreview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.preview == nil {
		return nil
	}
	cp := *s.preview
	return &cp
}

func (s *QueueStateStore) ConnectionHealth() models.MConnectionHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

func (s *QueueStateStore) ActiveKey() models.MTopicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeKey
}

func (s *QueueStateStore) BusinessID() string {
	return s.businessID
}

func (s *QueueStateStore) Location() *time.Location {
	return s.loc
}

// Generation changes on Clear and Detach. Async results tagged with an older
// generation are discarded.
func (s *QueueStateStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SelectionContext returns the selection and the options derived from it
// under one read lock.
func (s *QueueStateStore) SelectionContext() (models.MSelection, []models.MQueueOption, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection.Clone(), DeriveOptions(s.snapshot, s.selection, s.loc), s.generation
}

// View returns a consistent copy of everything the UI renders.
func (s *QueueStateStore) View(kind string) models.MSessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked(kind)
}

// -----------------------------------------------------------------------------
// Watchers
// -----------------------------------------------------------------------------

// Watch registers fn to receive a view after every write. The returned func
// unregisters it. fn runs outside the store lock and may call back in.
func (s *QueueStateStore) Watch(fn func(models.MSessionView)) func() {
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// write runs fn under the writer lock. If fn reports a change, the version is
// bumped and watchers get the resulting view once the lock is released.
func (s *QueueStateStore) write(fn func() bool) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	if !fn() {
		s.mu.Unlock()
		return
	}
	s.version++
	view := s.viewLocked("UPDATE")
	watchers := make([]func(models.MSessionView), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w(view)
	}
}

func (s *QueueStateStore) viewLocked(kind string) models.MSessionView {
	view := models.MSessionView{
		Type:       kind,
		BusinessID: s.businessID,
		Selection:  s.selection.Clone(),
		Options:    DeriveOptions(s.snapshot, s.selection, s.loc),
		Connection: s.health,
		Version:    s.version,
	}
	if s.reservation != nil {
		cp := *s.reservation
		view.Reservation = &cp
	}
	if s.preview != nil {
		cp := *s.preview
		view.Preview = &cp
	}
	if s.snapshot != nil {
		view.SnapshotAt = s.snapshot.ReceivedAt.Unix()
	}
	return view
}
