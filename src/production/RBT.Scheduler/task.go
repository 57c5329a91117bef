package scheduler

import (
	"time"

	weather "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Weather"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSkipped   Status = "skipped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s != StatusScheduled
}

// Task is a deferred start command for a set of multicast groups
type Task struct {
	ID         string             `json:"id"`
	GroupIDs   []string           `json:"groupIds"`
	FireAt     time.Time          `json:"scheduleTime"`
	Status     Status             `json:"status"`
	CreatedAt  time.Time          `json:"createdAt"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
	Message    string             `json:"message,omitempty"`
	Thresholds weather.Thresholds `json:"thresholds"`

	firing bool
	timer  Timer
}

// snapshot copies the task for callers outside the registry lock
func (t *Task) snapshot() Task {
	out := *t
	out.GroupIDs = append([]string(nil), t.GroupIDs...)
	out.timer = nil
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// Firing reports whether the task was claimed by its timer and is running
func (t Task) Firing() bool {
	return t.firing
}
