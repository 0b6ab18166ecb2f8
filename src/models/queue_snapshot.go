package models

import "time"

// -----------------------------------------------------------------------------
// Topic key: one live channel per (business, date)
// -----------------------------------------------------------------------------

type MTopicKey struct {
	BusinessID string `json:"business_id"`
	Date       string `json:"date"`
}

// IsZero reports whether the key names no topic at all.
func (k MTopicKey) IsZero() bool {
	return k.BusinessID == "" || k.Date == ""
}

func (k MTopicKey) String() string {
	return k.BusinessID + "/" + k.Date
}

// -----------------------------------------------------------------------------
// Queue snapshot (server push, always a full state, never a diff)
// -----------------------------------------------------------------------------

type MQueue struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Available     bool   `json:"available"`
	Position      int    `json:"position"`
	Capacity      *int   `json:"capacity"` // nil means unbounded
	WaitMinutes   int    `json:"wait_minutes"`
	WaitRange     string `json:"wait_range,omitempty"`
	EstimatedTime string `json:"estimated_time,omitempty"` // "15:04"
}

type MQueueSnapshot struct {
	BusinessID         string    `json:"business_id"`
	Date               string    `json:"date"`
	RecommendedQueueID string    `json:"recommended_queue_id,omitempty"`
	Queues             []MQueue  `json:"queues"`
	ReceivedAt         time.Time `json:"received_at"`
}

// Key returns the topic the snapshot belongs to.
func (s *MQueueSnapshot) Key() MTopicKey {
	return MTopicKey{BusinessID: s.BusinessID, Date: s.Date}
}

// FindQueue returns the queue with the given id, or nil.
func (s *MQueueSnapshot) FindQueue(id string) *MQueue {
	if s == nil {
		return nil
	}
	for i := range s.Queues {
		if s.Queues[i].ID == id {
			return &s.Queues[i]
		}
	}
	return nil
}

// Clone returns a deep copy so readers never share memory with the store.
func (s *MQueueSnapshot) Clone() *MQueueSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Queues = make([]MQueue, len(s.Queues))
	for i, q := range s.Queues {
		if q.Capacity != nil {
			c := *q.Capacity
			q.Capacity = &c
		}
		out.Queues[i] = q
	}
	return &out
}
