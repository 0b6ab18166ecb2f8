package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"queue-sync/src/models"
	"queue-sync/src/utils"
)

const minutesPerPosition = 5

// -----------------------------------------------------------------------------
// Simulated backend state
// -----------------------------------------------------------------------------

// simulator keeps one set of queues per (business, date) and fans changes out
// to channel subscribers.
type simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
	names    []string
	capacity int
	topics   map[models.MTopicKey]*topic
	bookings map[string]models.MBookingResult
	tokens   int
}

type topic struct {
	key    models.MTopicKey
	queues []models.MQueue
	subs   map[*subscriber]struct{}
}

type subscriber struct {
	send chan []byte
}

// previewBody is the preview response body.
type previewBody struct {
	Queues             []models.MQueueOption `json:"queues"`
	RecommendedQueueID string                `json:"recommended_queue_id"`
}

// apiError carries an HTTP status and a {"detail"} message.
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string { return e.detail }

// -----------------------------------------------------------------------------

func newSimulator(names []string, capacity int, seed int64) *simulator {
	return &simulator{
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
		names:    names,
		capacity: capacity,
		topics:   make(map[models.MTopicKey]*topic),
		bookings: make(map[string]models.MBookingResult),
	}
}

// -----------------------------------------------------------------------------

func (s *simulator) topicLocked(key models.MTopicKey) *topic {
	if t, ok := s.topics[key]; ok {
		return t
	}
	t := &topic{key: key, subs: make(map[*subscriber]struct{})}
	for i, name := range s.names {
		position := s.rng.Intn(s.capacity / 2)
		capacity := s.capacity
		t.queues = append(t.queues, models.MQueue{
			ID:          fmt.Sprintf("q%d", i+1),
			Name:        name,
			Available:   position < capacity,
			Position:    position,
			Capacity:    &capacity,
			WaitMinutes: position * minutesPerPosition,
		})
	}
	s.topics[key] = t
	return t
}

// -----------------------------------------------------------------------------

func (s *simulator) snapshotLocked(t *topic) models.MQueueSnapshot {
	snap := models.MQueueSnapshot{
		BusinessID: t.key.BusinessID,
		Date:       t.key.Date,
		Queues:     make([]models.MQueue, len(t.queues)),
	}
	best := -1
	for i, q := range t.queues {
		q.WaitRange = utils.WaitRange(q.WaitMinutes)
		q.EstimatedTime = s.now().Add(time.Duration(q.WaitMinutes) * time.Minute).Format(utils.ClockLayout)
		snap.Queues[i] = q
		if q.Available && (best < 0 || q.WaitMinutes < t.queues[best].WaitMinutes) {
			best = i
		}
	}
	if best >= 0 {
		snap.RecommendedQueueID = t.queues[best].ID
	}
	return snap
}

// -----------------------------------------------------------------------------

func encodeMessage(msgType string, data interface{}) []byte {
	msg := map[string]interface{}{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	raw, _ := json.Marshal(msg)
	return raw
}

// -----------------------------------------------------------------------------
// Channel subscriptions
// -----------------------------------------------------------------------------

// subscribe registers a channel and returns its initial_state frame.
func (s *simulator) subscribe(key models.MTopicKey) (*subscriber, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.topicLocked(key)
	sub := &subscriber{send: make(chan []byte, 16)}
	t.subs[sub] = struct{}{}
	return sub, encodeMessage(models.MessageInitialState, s.snapshotLocked(t))
}

func (s *simulator) unsubscribe(key models.MTopicKey, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.topics[key]; ok {
		delete(t.subs, sub)
	}
}

// current returns a queue_update frame for key, used to answer "refresh".
func (s *simulator) current(key models.MTopicKey) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeMessage(models.MessageQueueUpdate, s.snapshotLocked(s.topicLocked(key)))
}

// -----------------------------------------------------------------------------

// publishLocked pushes the topic's snapshot to every subscriber. A full
// subscriber buffer skips the frame; the next one carries the full state.
func (s *simulator) publishLocked(t *topic) {
	if len(t.subs) == 0 {
		return
	}
	frame := encodeMessage(models.MessageQueueUpdate, s.snapshotLocked(t))
	for sub := range t.subs {
		select {
		case sub.send <- frame:
		default:
		}
	}
}

// -----------------------------------------------------------------------------

// tick serves the head of every queue with some probability and flips
// availability at capacity.
func (s *simulator) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.topics {
		changed := false
		for i := range t.queues {
			q := &t.queues[i]
			if q.Position > 0 && s.rng.Intn(2) == 0 {
				q.Position--
				changed = true
			}
			q.WaitMinutes = q.Position * minutesPerPosition
			q.Available = q.Position < s.capacity
		}
		if changed {
			s.publishLocked(t)
		}
	}
}

// -----------------------------------------------------------------------------
// REST
// -----------------------------------------------------------------------------

func (s *simulator) preview(key models.MTopicKey, serviceIDs []string) (previewBody, error) {
	if len(serviceIDs) == 0 {
		return previewBody{}, &apiError{status: http.StatusUnprocessableEntity, detail: "at least one service is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked(s.topicLocked(key))
	out := previewBody{RecommendedQueueID: snap.RecommendedQueueID, Queues: make([]models.MQueueOption, 0, len(snap.Queues))}
	for _, q := range snap.Queues {
		out.Queues = append(out.Queues, models.MQueueOption{
			QueueID:       q.ID,
			Name:          q.Name,
			Position:      q.Position + 1,
			Capacity:      q.Capacity,
			WaitMinutes:   q.WaitMinutes,
			WaitRange:     q.WaitRange,
			EstimatedTime: q.EstimatedTime,
			Available:     q.Available,
		})
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// book appends caller to a queue. A repeat booking by the same caller for the
// same queue and date answers with the existing place.
func (s *simulator) book(key models.MTopicKey, req models.MBookingRequest, caller string) (models.MBookingResult, error) {
	if len(req.ServiceIDs) == 0 || req.QueueID == "" {
		return models.MBookingResult{}, &apiError{status: http.StatusUnprocessableEntity, detail: "queue_id and service_ids are required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bookingKey := fmt.Sprintf("%s|%s|%s|%s", key.BusinessID, key.Date, req.QueueID, caller)
	if existing, ok := s.bookings[bookingKey]; ok {
		existing.AlreadyInQueue = true
		existing.Message = "You are already in this queue"
		return existing, nil
	}

	t := s.topicLocked(key)
	var q *models.MQueue
	for i := range t.queues {
		if t.queues[i].ID == req.QueueID {
			q = &t.queues[i]
		}
	}
	if q == nil {
		return models.MBookingResult{}, &apiError{status: http.StatusNotFound, detail: "queue not found"}
	}
	if !q.Available {
		return models.MBookingResult{}, &apiError{status: http.StatusConflict, detail: "queue is full for this date"}
	}

	q.Position++
	q.WaitMinutes = q.Position * minutesPerPosition
	q.Available = q.Position < s.capacity
	s.tokens++

	result := models.MBookingResult{
		ID:            fmt.Sprintf("bk-%d", s.tokens),
		TokenNumber:   models.TokenNumber(fmt.Sprintf("A-%03d", s.tokens)),
		QueueID:       q.ID,
		QueueName:     q.Name,
		Position:      q.Position,
		WaitMinutes:   q.WaitMinutes,
		EstimatedTime: s.now().Add(time.Duration(q.WaitMinutes) * time.Minute).Format(utils.ClockLayout),
		Status:        "confirmed",
	}
	s.bookings[bookingKey] = result
	s.publishLocked(t)
	return result, nil
}

