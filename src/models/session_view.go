package models

// -----------------------------------------------------------------------------
// Session view pushed to local UI sockets (INITIAL on connect, UPDATE after)
// -----------------------------------------------------------------------------

type MSessionView struct {
	Type        string            `json:"type"` // "INITIAL" or "UPDATE"
	BusinessID  string            `json:"business_id"`
	Selection   MSelection        `json:"selection"`
	Options     []MQueueOption    `json:"options"`
	Reservation *MReservation     `json:"reservation"`
	Preview     *MBookingPreview  `json:"preview"`
	Connection  MConnectionHealth `json:"connection"`
	SnapshotAt  int64             `json:"snapshot_at"` // unix seconds, 0 if none yet
	Version     uint64            `json:"version"`
}

// -----------------------------------------------------------------------------
// Selection command posted by the local UI
// -----------------------------------------------------------------------------

type MSelectionCommand struct {
	ServiceIDs []string `json:"service_ids"`
	Date       *string  `json:"date"`
	QueueID    *string  `json:"queue_id"`
}

// Patch converts the command into a store patch.
func (c MSelectionCommand) Patch() MSelectionPatch {
	return MSelectionPatch{
		ServiceIDs: c.ServiceIDs,
		Date:       c.Date,
		QueueID:    c.QueueID,
	}
}
