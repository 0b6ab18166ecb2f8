package interfaces

import (
	"context"

	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// IReservationJournal defines the contract for storing booking outcomes.
// -----------------------------------------------------------------------------

type IReservationJournal interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveReservation appends one outcome (confirmed or conflict).
	SaveReservation(ctx context.Context, r *models.MReservation) error

	// -----------------------------------------------------------------------------

	// ListReservations returns up to limit entries, newest first.
	ListReservations(ctx context.Context, businessID string, limit int) ([]models.MReservation, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
