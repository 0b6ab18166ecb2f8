package interfaces

import (
	"context"

	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// IPreviewCache keeps recent previews for a short TTL. A miss is (nil, nil).
// -----------------------------------------------------------------------------

type IPreviewCache interface {
	Get(ctx context.Context, req models.MPreviewRequest) (*models.MBookingPreview, error)
	Set(ctx context.Context, req models.MPreviewRequest, preview *models.MBookingPreview) error
	Close() error
}
