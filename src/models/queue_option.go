package models

// -----------------------------------------------------------------------------
// QueueOption: derived per-queue projection, never stored on its own
// -----------------------------------------------------------------------------

type MQueueOption struct {
	QueueID       string `json:"queue_id"`
	Name          string `json:"name"`
	Position      int    `json:"position"`
	Capacity      *int   `json:"capacity"`
	WaitMinutes   int    `json:"wait_minutes"`
	WaitRange     string `json:"wait_range"`
	EstimatedTime string `json:"estimated_time"`
	Recommended   bool   `json:"recommended"`
	Available     bool   `json:"available"`
	Selected      bool   `json:"selected"`
}

// -----------------------------------------------------------------------------
// Booking preview (REST, manual "refresh estimates")
// -----------------------------------------------------------------------------

type MPreviewRequest struct {
	BusinessID string   `json:"-"`
	Date       string   `json:"date"`
	ServiceIDs []string `json:"service_ids"`
}

type MBookingPreview struct {
	Date               string         `json:"date"`
	ServiceIDs         []string       `json:"service_ids"`
	Queues             []MQueueOption `json:"queues"`
	RecommendedQueueID string         `json:"recommended_queue_id,omitempty"`
	FetchedAt          int64          `json:"fetched_at"`
}
