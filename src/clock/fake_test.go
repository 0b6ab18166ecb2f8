package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	c := Fake(epoch)
	c.Advance(5 * time.Second)
	if got, want := c.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeClockAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(3*time.Second, func() { fired++ })

	c.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatal("AfterFunc fired before its deadline")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	c.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("fired = %d after second advance, want 1", fired)
	}
}

func TestFakeClockStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop() returned true")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	if d, ok := c.NextDeadline(); !ok || d != time.Second {
		t.Fatalf("NextDeadline() = %v, %v; want 1s, true", d, ok)
	}

	c.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestFakeClockCallbackMayScheduleAnotherTimer(t *testing.T) {
	c := Fake(epoch)
	second := false
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { second = true })
	})

	c.Advance(time.Second)
	if second {
		t.Fatal("nested timer fired in the same Advance")
	}
	c.Advance(time.Second)
	if !second {
		t.Fatal("nested timer did not fire")
	}
}
