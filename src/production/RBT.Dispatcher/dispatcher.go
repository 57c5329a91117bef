package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	metrics "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoTargets is returned when a dispatch names no group
	ErrNoTargets = errors.New("no dispatch targets")
	// ErrDispatchFailed wraps the failure of one or more targets
	ErrDispatchFailed = errors.New("dispatch failed")
)

// Enqueuer queues downlinks on the network server
type Enqueuer interface {
	EnqueueMulticast(ctx context.Context, groupID string, payload []byte) error
	EnqueueDevice(ctx context.Context, devEUI string, payload []byte) error
}

// TargetResult is the outcome for one group or device
type TargetResult struct {
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Result lists per-target outcomes in request order
type Result struct {
	Command string         `json:"command"`
	Targets []TargetResult `json:"targets"`
}

// Failed returns the targets that did not accept the downlink
func (r *Result) Failed() []TargetResult {
	failed := make([]TargetResult, 0)
	for _, target := range r.Targets {
		if !target.OK {
			failed = append(failed, target)
		}
	}
	return failed
}

type Dispatcher struct {
	client  Enqueuer
	timeout time.Duration
	logger  *logger.Logger
}

func New(client Enqueuer, timeout time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		client:  client,
		timeout: timeout,
		logger:  log.WithComponent("dispatcher"),
	}
}

// Dispatch sends op to every group concurrently and waits for all of them.
// Each call has its own timeout; a slow group fails alone and does not cancel
// the others. Any failure fails the whole dispatch. Groups that already accepted
// the downlink are not rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, groupIDs []string, op Opcode) (*Result, error) {
	if len(groupIDs) == 0 {
		return nil, ErrNoTargets
	}

	result := &Result{Command: op.String(), Targets: make([]TargetResult, len(groupIDs))}
	var g errgroup.Group
	for i, groupID := range groupIDs {
		g.Go(func() error {
			err := d.send(ctx, "multicast", groupID, op, d.client.EnqueueMulticast)
			result.Targets[i] = targetResult(groupID, err)
			return err
		})
	}
	err := g.Wait()

	log := d.logger.WithFields(map[string]interface{}{
		"command": op.String(),
		"groups":  groupIDs,
	})
	if err != nil {
		failed := result.Failed()
		log.WithError(err).WithField("failed", len(failed)).Error("Dispatch failed")
		return result, fmt.Errorf("%w: %d of %d groups failed: %v", ErrDispatchFailed, len(failed), len(groupIDs), err)
	}
	log.Info("Dispatch completed")
	return result, nil
}

// DispatchDevice sends op to a single device
func (d *Dispatcher) DispatchDevice(ctx context.Context, devEUI string, op Opcode) (*Result, error) {
	if devEUI == "" {
		return nil, ErrNoTargets
	}

	err := d.send(ctx, "device", devEUI, op, d.client.EnqueueDevice)
	result := &Result{Command: op.String(), Targets: []TargetResult{targetResult(devEUI, err)}}
	if err != nil {
		d.logger.WithField("device_eui", devEUI).WithError(err).Error("Device dispatch failed")
		return result, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	d.logger.WithFields(map[string]interface{}{
		"command":    op.String(),
		"device_eui": devEUI,
	}).Info("Device dispatch completed")
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, kind, target string, op Opcode, enqueue func(context.Context, string, []byte) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := enqueue(callCtx, target, op.Payload())
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s %s timed out after %s: %w", kind, target, d.timeout, err)
	}

	outcome := metrics.ResultSuccess
	if err != nil {
		outcome = metrics.ResultError
	}
	metrics.ObserveDownlink(kind, op.String(), outcome, time.Since(start))
	return err
}

func targetResult(target string, err error) TargetResult {
	if err != nil {
		return TargetResult{Target: target, Error: err.Error()}
	}
	return TargetResult{Target: target, OK: true}
}
