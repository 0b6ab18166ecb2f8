package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"queue-sync/src/helpers"
	"queue-sync/src/models"
)

func newTestJournal(t *testing.T) *AsyncSQLiteDB {
	t.Helper()
	cfg := &models.MConfig{}
	cfg.Storage.DBType = "sqlite"
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "journal.db")

	db, err := NewAsyncSQLiteDB(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndListReservations(t *testing.T) {
	db := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	entries := []models.MReservation{
		{BusinessID: "b1", QueueID: "q1", Date: "2025-06-01", ServiceIDs: []string{"s1", "s2"}, TokenNumber: "A-1", Position: 3, WaitMinutes: 15, Status: models.ReservationConfirmed, CreatedAt: base},
		{BusinessID: "b1", QueueID: "q2", Date: "2025-06-01", ServiceIDs: []string{"s1"}, Position: 7, WaitMinutes: 35, Status: models.ReservationConflict, Conflict: true, CreatedAt: base.Add(time.Minute)},
		{BusinessID: "b2", QueueID: "q9", Date: "2025-06-02", ServiceIDs: []string{"s3"}, Status: models.ReservationConfirmed, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := db.SaveReservation(ctx, &entries[i]); err != nil {
			t.Fatalf("SaveReservation %d: %v", i, err)
		}
		if entries[i].ID == "" {
			t.Fatalf("entry %d got no id", i)
		}
	}

	got, err := db.ListReservations(ctx, "b1", 10)
	if err != nil {
		t.Fatalf("ListReservations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].QueueID != "q2" || !got[0].Conflict || got[0].Status != models.ReservationConflict {
		t.Fatalf("newest entry = %+v", got[0])
	}
	if got[1].TokenNumber != "A-1" || len(got[1].ServiceIDs) != 2 || !got[1].CreatedAt.Equal(base) {
		t.Fatalf("oldest entry = %+v", got[1])
	}

	all, err := db.ListReservations(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListReservations all: %v", err)
	}
	if len(all) != 2 || all[0].BusinessID != "b2" {
		t.Fatalf("limit/order wrong: %+v", all)
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	cfg := &models.MConfig{}
	cfg.Storage.DBType = "sqlite"
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "journal.db")

	first, err := NewReservationJournal(cfg, nil)
	if err != nil {
		t.Fatalf("NewReservationJournal: %v", err)
	}
	r := &models.MReservation{BusinessID: "b1", QueueID: "q1", Date: "2025-06-01", Status: models.ReservationConfirmed}
	if err := first.SaveReservation(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := NewReservationJournal(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.ListReservations(context.Background(), "b1", 0)
	if err != nil || len(got) != 1 || got[0].ID != r.ID {
		t.Fatalf("after reopen got %+v, %v", got, err)
	}
}

func TestNewReservationJournalRejectsUnknownType(t *testing.T) {
	cfg := &models.MConfig{}
	cfg.Storage.DBType = "mongo"

	_, err := NewReservationJournal(cfg, nil)
	var ce *helpers.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestSchemaName(t *testing.T) {
	tests := map[string]string{
		"queue-sync": "queue_sync",
		"QueueSync2": "queuesync2",
		"":           "queue_sync",
	}
	for in, want := range tests {
		if got := schemaName(in); got != want {
			t.Errorf("schemaName(%q) = %q, want %q", in, got, want)
		}
	}
}
