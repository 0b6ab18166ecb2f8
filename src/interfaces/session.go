package interfaces

import (
	"context"

	"queue-sync/src/models"
	"queue-sync/src/store"
)

// -----------------------------------------------------------------------------
// IBookingSession is what the local API drives: one business, one user.
// -----------------------------------------------------------------------------

type IBookingSession interface {
	View() models.MSessionView
	SetSelection(patch models.MSelectionPatch) store.SelectionChange

	Submit(ctx context.Context) (*models.MReservation, error)
	DismissReservation()
	Refresh(ctx context.Context) (*models.MBookingPreview, error)
	Reconnect() error
	Leave()

	Events(n int) []models.MConnectionEvent
	Reservations(ctx context.Context, limit int) ([]models.MReservation, error)
}
