package interfaces

import (
	"context"

	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// IBookingAPI is the REST collaborator for previews and booking writes.
// Failures are typed (*helpers.RequestError / *helpers.AuthError).
// -----------------------------------------------------------------------------

type IBookingAPI interface {

	// Preview fetches position/wait projections without booking.
	Preview(ctx context.Context, req models.MPreviewRequest) (*models.MBookingPreview, error)

	// -----------------------------------------------------------------------------

	// Submit issues the booking write. An already-in-queue answer is a
	// successful result with AlreadyInQueue set.
	Submit(ctx context.Context, req models.MBookingRequest) (*models.MBookingResult, error)
}
