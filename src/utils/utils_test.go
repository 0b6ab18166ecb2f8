package utils

import (
	"testing"
	"time"

	"queue-sync/src/models"
)

func TestEventLogKeepsNewest(t *testing.T) {
	log := NewEventLog(3)
	for i := 1; i <= 5; i++ {
		log.Append(models.MConnectionEvent{Attempt: i})
	}

	if log.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", log.Size())
	}

	all := log.GetAll()
	if len(all) != 3 || all[0].Attempt != 3 || all[2].Attempt != 5 {
		t.Fatalf("GetAll() attempts = %v, want [3 4 5]", attempts(all))
	}

	latest := log.GetLatest(2)
	if len(latest) != 2 || latest[0].Attempt != 4 || latest[1].Attempt != 5 {
		t.Fatalf("GetLatest(2) attempts = %v, want [4 5]", attempts(latest))
	}

	log.Clear()
	if len(log.GetAll()) != 0 {
		t.Fatal("Clear() left events behind")
	}
}

func attempts(evs []models.MConnectionEvent) []int {
	out := make([]int, len(evs))
	for i, e := range evs {
		out[i] = e.Attempt
	}
	return out
}

func TestIsPastDate(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2025-06-01 23:30 UTC is already 2025-06-02 in Tokyo.
	now := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		date string
		loc  *time.Location
		want bool
	}{
		{"2025-06-01", time.UTC, false},
		{"2025-05-31", time.UTC, true},
		{"2025-06-01", loc, true},
		{"2025-06-02", loc, false},
	}
	for _, tt := range tests {
		got, err := IsPastDate(tt.date, now, tt.loc)
		if err != nil {
			t.Fatalf("IsPastDate(%s): %v", tt.date, err)
		}
		if got != tt.want {
			t.Errorf("IsPastDate(%s, %s) = %v, want %v", tt.date, tt.loc, got, tt.want)
		}
	}

	if _, err := IsPastDate("06/01/2025", now, time.UTC); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestWaitRangeAndClockTime(t *testing.T) {
	if got := WaitRange(20); got != "15-25 min" {
		t.Errorf("WaitRange(20) = %q", got)
	}
	if got := WaitRange(3); got != "0-8 min" {
		t.Errorf("WaitRange(3) = %q", got)
	}

	asOf := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	if got := EstimatedClockTime(asOf, 15, time.UTC); got != "10:45" {
		t.Errorf("EstimatedClockTime = %q, want 10:45", got)
	}
	if got := EstimatedClockTime(time.Time{}, 15, time.UTC); got != "" {
		t.Errorf("EstimatedClockTime(zero) = %q, want empty", got)
	}
}
