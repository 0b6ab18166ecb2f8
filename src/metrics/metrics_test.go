package metrics

import (
	"testing"
	"time"

	"queue-sync/src/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTransition(t *testing.T) {
	m := New()

	m.ObserveTransition(
		models.MConnectionEvent{From: models.PhaseConnecting, To: models.PhaseReconnecting},
		models.MConnectionHealth{Phase: models.PhaseReconnecting, Attempt: 2},
	)

	if got := testutil.ToFloat64(m.ConnectionState.WithLabelValues(string(models.PhaseReconnecting))); got != 1 {
		t.Errorf("reconnecting gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.ConnectionState.WithLabelValues(string(models.PhaseOpen))); got != 0 {
		t.Errorf("open gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.ReconnectAttempt); got != 2 {
		t.Errorf("attempt = %v", got)
	}
	if got := testutil.ToFloat64(m.ConnectionTransitions.WithLabelValues(string(models.PhaseReconnecting))); got != 1 {
		t.Errorf("transitions = %v", got)
	}
}

func TestObserveViewAndBooking(t *testing.T) {
	m := New()

	m.ObserveView(models.MSessionView{
		Options: []models.MQueueOption{
			{QueueID: "q1", Available: true},
			{QueueID: "q2", Available: false},
			{QueueID: "q3", Available: true},
		},
		SnapshotAt: 1700000000,
	})
	if got := testutil.ToFloat64(m.OptionsAvailable); got != 2 {
		t.Errorf("options available = %v", got)
	}

	m.ObserveBooking("conflict", time.Now())
	if got := testutil.ToFloat64(m.BookingsTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("conflict bookings = %v", got)
	}
}

func TestInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.SnapshotsApplied.Inc()
	if testutil.ToFloat64(b.SnapshotsApplied) != 0 {
		t.Fatal("registries share state")
	}
}
