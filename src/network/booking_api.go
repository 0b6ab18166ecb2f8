package network

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// BookingAPI talks to the preview and booking endpoints of the backend.
// -----------------------------------------------------------------------------

type BookingAPI struct {
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	Now     func() time.Time
}

func NewBookingAPI(nm interfaces.INetworkManager, log *logger.Logger) *BookingAPI {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &BookingAPI{Network: nm, Logger: log, Now: time.Now}
}

// previewResponse is the wire shape of a booking preview.
type previewResponse struct {
	Queues             []models.MQueueOption `json:"queues"`
	RecommendedQueueID string                `json:"recommended_queue_id"`
}

// -----------------------------------------------------------------------------

// Preview has no side effects on the backend, so it is retried.
func (a *BookingAPI) Preview(ctx context.Context, req models.MPreviewRequest) (*models.MBookingPreview, error) {
	path := fmt.Sprintf("/businesses/%s/booking-preview", url.PathEscape(req.BusinessID))

	var resp previewResponse
	if err := a.Network.PostJSON(ctx, path, req, &resp, true); err != nil {
		return nil, err
	}

	preview := &models.MBookingPreview{
		Date:               req.Date,
		ServiceIDs:         models.NormalizeServiceIDs(req.ServiceIDs),
		Queues:             resp.Queues,
		RecommendedQueueID: resp.RecommendedQueueID,
		FetchedAt:          a.Now().Unix(),
	}
	if preview.Queues == nil {
		preview.Queues = []models.MQueueOption{}
	}
	for i := range preview.Queues {
		q := &preview.Queues[i]
		q.Recommended = q.Available && q.QueueID == resp.RecommendedQueueID
	}

	a.Logger.Debug("Preview for %s on %s: %d queues", req.BusinessID, req.Date, len(preview.Queues))
	return preview, nil
}

// -----------------------------------------------------------------------------

// Submit is a write and is never retried; a duplicate could book twice.
func (a *BookingAPI) Submit(ctx context.Context, req models.MBookingRequest) (*models.MBookingResult, error) {
	path := fmt.Sprintf("/businesses/%s/bookings", url.PathEscape(req.BusinessID))

	var result models.MBookingResult
	if err := a.Network.PostJSON(ctx, path, req, &result, false); err != nil {
		return nil, err
	}

	if result.QueueID == "" {
		result.QueueID = req.QueueID
	}
	a.Logger.Info("Booking for queue %s on %s: already_in_queue=%v", result.QueueID, req.Date, result.AlreadyInQueue)
	return &result, nil
}
