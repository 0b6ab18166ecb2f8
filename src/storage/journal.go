package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"queue-sync/src/helpers"
	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// -----------------------------------------------------------------------------

// NewReservationJournal opens the journal backend named in the config and
// creates its table.
func NewReservationJournal(cfg *models.MConfig, log *logger.Logger) (interfaces.IReservationJournal, error) {
	var journal interfaces.IReservationJournal
	var err error

	switch cfg.Storage.DBType {
	case "sqlite":
		journal, err = NewAsyncSQLiteDB(cfg, log)
	case "postgres":
		journal, err = NewPostgresDB(cfg, log)
	default:
		return nil, &helpers.ConfigurationError{QueueSyncError: helpers.QueueSyncError{
			Message: fmt.Sprintf("unsupported database type: %s", cfg.Storage.DBType),
		}}
	}
	if err != nil {
		return nil, err
	}

	if err := journal.Initialize(); err != nil {
		_ = journal.Close()
		return nil, &helpers.DatabaseError{QueueSyncError: helpers.QueueSyncError{
			Message: "failed to initialize reservation journal",
			Cause:   err,
		}}
	}
	return journal, nil
}

// -----------------------------------------------------------------------------
// reservationRow is the persisted shape of models.MReservation
// -----------------------------------------------------------------------------

type reservationRow struct {
	ID            string `db:"id"`
	BookingID     string `db:"booking_id"`
	BusinessID    string `db:"business_id"`
	QueueID       string `db:"queue_id"`
	QueueName     string `db:"queue_name"`
	Date          string `db:"date"`
	ServiceIDs    string `db:"service_ids"`
	TokenNumber   string `db:"token_number"`
	Position      int    `db:"position"`
	WaitMinutes   int    `db:"wait_minutes"`
	EstimatedTime string `db:"estimated_time"`
	Status        string `db:"status"`
	Conflict      bool   `db:"conflict"`
	Message       string `db:"message"`
	CreatedAt     int64  `db:"created_at"` // unix millis
}

func toRow(r *models.MReservation) reservationRow {
	return reservationRow{
		ID:            r.ID,
		BookingID:     r.BookingID,
		BusinessID:    r.BusinessID,
		QueueID:       r.QueueID,
		QueueName:     r.QueueName,
		Date:          r.Date,
		ServiceIDs:    strings.Join(r.ServiceIDs, ","),
		TokenNumber:   r.TokenNumber,
		Position:      r.Position,
		WaitMinutes:   r.WaitMinutes,
		EstimatedTime: r.EstimatedTime,
		Status:        string(r.Status),
		Conflict:      r.Conflict,
		Message:       r.Message,
		CreatedAt:     r.CreatedAt.UnixMilli(),
	}
}

func (row reservationRow) model() models.MReservation {
	var services []string
	if row.ServiceIDs != "" {
		services = strings.Split(row.ServiceIDs, ",")
	}
	return models.MReservation{
		ID:            row.ID,
		BookingID:     row.BookingID,
		BusinessID:    row.BusinessID,
		QueueID:       row.QueueID,
		QueueName:     row.QueueName,
		Date:          row.Date,
		ServiceIDs:    services,
		TokenNumber:   row.TokenNumber,
		Position:      row.Position,
		WaitMinutes:   row.WaitMinutes,
		EstimatedTime: row.EstimatedTime,
		Status:        models.ReservationStatus(row.Status),
		Conflict:      row.Conflict,
		Message:       row.Message,
		CreatedAt:     time.UnixMilli(row.CreatedAt).UTC(),
	}
}

// -----------------------------------------------------------------------------
// reservationTable holds the queries shared by both drivers. Placeholders are
// written as ? and rebound per driver.
// -----------------------------------------------------------------------------

type reservationTable struct {
	db    *sqlx.DB
	table string
}

// SaveReservation appends one outcome. A missing id gets a fresh uuid.
func (t *reservationTable) SaveReservation(ctx context.Context, r *models.MReservation) error {
	if t.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, booking_id, business_id, queue_id, queue_name, date, service_ids,
			token_number, position, wait_minutes, estimated_time, status, conflict,
			message, created_at
		) VALUES (
			:id, :booking_id, :business_id, :queue_id, :queue_name, :date, :service_ids,
			:token_number, :position, :wait_minutes, :estimated_time, :status, :conflict,
			:message, :created_at
		)`, t.table)

	if _, err := t.db.NamedExecContext(ctx, query, toRow(r)); err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// ListReservations returns up to limit entries for businessID, newest first.
// An empty businessID lists every business.
func (t *reservationTable) ListReservations(ctx context.Context, businessID string, limit int) ([]models.MReservation, error) {
	if t.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, booking_id, business_id, queue_id, queue_name, date, service_ids,
		       token_number, position, wait_minutes, estimated_time, status, conflict,
		       message, created_at
		FROM %s
		WHERE (CAST(? AS TEXT) = '' OR business_id = ?)
		ORDER BY created_at DESC
		LIMIT ?`, t.table)

	var rows []reservationRow
	if err := t.db.SelectContext(ctx, &rows, t.db.Rebind(query), businessID, businessID, limit); err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}

	out := make([]models.MReservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}
