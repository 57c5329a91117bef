package scheduler

import "time"

type (
	// Clock abstracts the time functions the scheduler uses so tests can
	// control apparent time.
	Clock interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
	}

	// Timer abstracts the functionality of time.Timer used here.
	Timer interface {
		Stop() bool
	}

	wallClock struct{}
)

// WallClock is the real clock
var WallClock Clock = wallClock{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
