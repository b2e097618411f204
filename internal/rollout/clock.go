package rollout

import (
	"sync"
	"time"
)

// Clock abstracts time so the manager's periodic loops can run against
// virtual time in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Schedule invokes fn every interval until the returned stop function
	// is called. Stop is safe to call more than once.
	Schedule(interval time.Duration, fn func()) (stop func())
}

type realClock struct{}

// NewClock returns a Clock backed by the system timer.
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Schedule(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
