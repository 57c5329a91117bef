package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	dispatcher "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Dispatcher"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	metrics "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Metrics"
	weather "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Weather"
)

var (
	ErrInvalidRequest     = errors.New("invalid schedule request")
	ErrTaskNotFound       = errors.New("scheduled task not found")
	ErrTaskFiring         = errors.New("scheduled task is already firing")
	ErrWeatherUnsafe      = errors.New("weather conditions are unsafe")
	ErrWeatherUnavailable = errors.New("weather conditions unavailable")
	ErrStopped            = errors.New("scheduler is stopped")
)

// WeatherGate evaluates current weather against thresholds
type WeatherGate interface {
	Check(ctx context.Context, stage string, thresholds *weather.Thresholds) (weather.Decision, *weather.Snapshot, error)
}

// ThresholdSource returns the live thresholds
type ThresholdSource interface {
	Get() weather.Thresholds
}

// Dispatcher sends a command to multicast groups
type Dispatcher interface {
	Dispatch(ctx context.Context, groupIDs []string, op dispatcher.Opcode) (*dispatcher.Result, error)
}

// CreateRequest asks for groups to be started at ScheduleTime
type CreateRequest struct {
	GroupIDs     []string
	ScheduleTime string
}

// Scheduler holds deferred start tasks in memory. A restart loses every task.
type Scheduler struct {
	gate       WeatherGate
	thresholds ThresholdSource
	dispatcher Dispatcher
	clock      Clock
	logger     *logger.Logger

	location    *time.Location
	policy      string
	fireTimeout time.Duration
	retention   time.Duration
	janitor     time.Duration

	mu      sync.Mutex
	tasks   map[string]*Task
	stopped bool
	started bool

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler. clock may be nil for the wall clock.
func New(cfg config.SchedulerConfig, gate WeatherGate, thresholds ThresholdSource, d Dispatcher, clock Clock, log *logger.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
	}
	if clock == nil {
		clock = WallClock
	}
	policy := cfg.ThresholdPolicy
	if policy == "" {
		policy = config.ThresholdPolicyLive
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gate:        gate,
		thresholds:  thresholds,
		dispatcher:  d,
		clock:       clock,
		logger:      log.WithComponent("scheduler"),
		location:    loc,
		policy:      policy,
		fireTimeout: cfg.FireTimeout,
		retention:   cfg.TaskRetention,
		janitor:     cfg.JanitorInterval,
		tasks:       make(map[string]*Task),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}, nil
}

// Start runs the janitor that prunes terminal tasks past their retention
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.janitor <= 0 || s.retention <= 0 {
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.janitor)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if n := s.Prune(); n > 0 {
					s.logger.WithField("pruned", n).Debug("Pruned finished tasks")
				}
			}
		}
	}()
}

// Stop cancels pending timers and waits for fires already in flight
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		for _, task := range s.tasks {
			if task.timer != nil {
				task.timer.Stop()
			}
		}
		s.mu.Unlock()

		s.cancel()
		s.inflight.Wait()
		if started {
			<-s.done
		}
		s.logger.Info("Scheduler stopped")
	})
}

// Create checks the weather against the live thresholds and registers the task.
// Nothing is registered when the weather is unsafe or cannot be read.
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	groups, err := normalizeGroups(req.GroupIDs)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	fireAt, err := NextOccurrence(req.ScheduleTime, now, s.location)
	if err != nil {
		return nil, err
	}

	captured := s.thresholds.Get()
	decision, _, err := s.gate.Check(ctx, "create", &captured)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeatherUnavailable, err)
	}
	if !decision.Valid {
		return nil, fmt.Errorf("%w: %s", ErrWeatherUnsafe, decision.Reason)
	}

	task := &Task{
		ID:         uuid.NewString(),
		GroupIDs:   groups,
		FireAt:     fireAt,
		Status:     StatusScheduled,
		CreatedAt:  now,
		Thresholds: captured,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.tasks[task.ID] = task
	id := task.ID
	task.timer = s.clock.AfterFunc(fireAt.Sub(now), func() { s.fire(id) })
	out := task.snapshot()
	pending := s.pendingLocked()
	s.mu.Unlock()

	metrics.IncTaskTransition(string(StatusScheduled))
	metrics.SetScheduledPending(pending)
	s.logger.WithFields(map[string]interface{}{
		"task_id":  id,
		"groups":   groups,
		"fire_at":  fireAt.Format(time.RFC3339),
		"timezone": s.location.String(),
	}).Info("Downlink scheduled")
	return &out, nil
}

// fire runs when a task's timer expires. Only a scheduled, unclaimed task runs,
// and every path ends in a terminal state.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok || s.stopped || task.Status != StatusScheduled || task.firing {
		s.mu.Unlock()
		return
	}
	task.firing = true
	groups := append([]string(nil), task.GroupIDs...)
	var limits weather.Thresholds
	if s.policy == config.ThresholdPolicySnapshot {
		limits = task.Thresholds
	} else {
		limits = s.thresholds.Get()
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	log := s.logger.WithField("task_id", id)

	checkCtx, cancel := context.WithTimeout(s.ctx, s.fireTimeout)
	decision, _, err := s.gate.Check(checkCtx, "fire", &limits)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Skipping task, weather unavailable")
		s.finish(id, StatusSkipped, "Cannot confirm safe conditions at the scheduled time: "+err.Error())
		return
	}
	if !decision.Valid {
		log.WithField("reason", decision.Reason).Info("Skipping task, weather unsafe")
		s.finish(id, StatusSkipped, "Weather is not good at the scheduled time: "+decision.Reason)
		return
	}

	if _, err := s.dispatcher.Dispatch(s.ctx, groups, dispatcher.OpStart); err != nil {
		log.WithError(err).Error("Scheduled downlink failed")
		s.finish(id, StatusFailed, err.Error())
		return
	}
	log.Info("Scheduled downlink executed")
	s.finish(id, StatusCompleted, "Downlink executed")
}

func (s *Scheduler) finish(id string, status Status, message string) {
	now := s.clock.Now()

	s.mu.Lock()
	if task, ok := s.tasks[id]; ok {
		task.Status = status
		task.Message = message
		task.FinishedAt = &now
		task.firing = false
		task.timer = nil
	}
	pending := s.pendingLocked()
	s.mu.Unlock()

	metrics.IncTaskTransition(string(status))
	metrics.SetScheduledPending(pending)
}

// Cancel stops and removes a scheduled task. A missing or finished task is
// ErrTaskNotFound; a task whose fire is already running is ErrTaskFiring.
func (s *Scheduler) Cancel(id string) (*Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok || task.Status != StatusScheduled {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if task.firing {
		s.mu.Unlock()
		return nil, ErrTaskFiring
	}
	if task.timer != nil {
		task.timer.Stop()
	}
	delete(s.tasks, id)
	task.Status = StatusCancelled
	out := task.snapshot()
	pending := s.pendingLocked()
	s.mu.Unlock()

	metrics.IncTaskTransition(string(StatusCancelled))
	metrics.SetScheduledPending(pending)
	s.logger.WithField("task_id", id).Info("Scheduled task cancelled")
	return &out, nil
}

func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := task.snapshot()
	return &out, nil
}

// List returns every retained task ordered by fire time
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Prune drops terminal tasks that finished more than the retention period ago
func (s *Scheduler) Prune() int {
	cutoff := s.clock.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, task := range s.tasks {
		if task.Status.Terminal() && task.FinishedAt != nil && task.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			pruned++
		}
	}
	return pruned
}

// Location is the timezone time-of-day schedules resolve in
func (s *Scheduler) Location() *time.Location {
	return s.location
}

func (s *Scheduler) pendingLocked() int {
	pending := 0
	for _, task := range s.tasks {
		if task.Status == StatusScheduled {
			pending++
		}
	}
	return pending
}

func normalizeGroups(groupIDs []string) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, fmt.Errorf("%w: Invalid groupIds provided", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(groupIDs))
	out := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: Invalid groupIds provided", ErrInvalidRequest)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
