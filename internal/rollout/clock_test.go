package rollout

import (
	"testing"
	"time"
)

func TestRealClockScheduleStopIsIdempotent(t *testing.T) {
	clock := NewClock()

	if clock.Now().IsZero() {
		t.Fatal("Now() returned the zero time")
	}

	stop := clock.Schedule(time.Hour, func() {
		t.Error("callback fired before the interval elapsed")
	})
	stop()
	stop()
}
