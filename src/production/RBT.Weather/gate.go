package weather

import (
	"context"
	"fmt"
	"time"

	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	metrics "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Metrics"
)

// Gate fetches the current weather and decides whether robots may run
type Gate struct {
	provider   Provider
	location   LocationSource
	thresholds *ThresholdStore
	timeout    time.Duration
	logger     *logger.Logger
}

func NewGate(provider Provider, location LocationSource, thresholds *ThresholdStore, timeout time.Duration, log *logger.Logger) *Gate {
	return &Gate{
		provider:   provider,
		location:   location,
		thresholds: thresholds,
		timeout:    timeout,
		logger:     log.WithComponent("weather"),
	}
}

// Thresholds returns the live threshold store
func (g *Gate) Thresholds() *ThresholdStore {
	return g.thresholds
}

// FetchSnapshot resolves the location and reads the current weather there.
// Any failure is returned; it is never treated as safe weather.
func (g *Gate) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	lat, lon, err := g.location.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve weather location: %w", err)
	}
	snapshot, err := g.provider.Current(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Check fetches a snapshot and evaluates it. A nil thresholds argument means the
// live thresholds. stage labels the check in metrics.
func (g *Gate) Check(ctx context.Context, stage string, thresholds *Thresholds) (Decision, *Snapshot, error) {
	snapshot, err := g.FetchSnapshot(ctx)
	if err != nil {
		metrics.IncWeatherCheck(stage, "error")
		g.logger.WithField("stage", stage).WithError(err).Warn("Weather fetch failed")
		return Decision{}, nil, err
	}

	limits := g.thresholds.Get()
	if thresholds != nil {
		limits = *thresholds
	}

	decision := Evaluate(*snapshot, limits)
	if decision.Valid {
		metrics.IncWeatherCheck(stage, "valid")
	} else {
		metrics.IncWeatherCheck(stage, "invalid")
		g.logger.WithFields(map[string]interface{}{
			"stage":  stage,
			"reason": decision.Reason,
		}).Info("Weather outside thresholds")
	}
	return decision, snapshot, nil
}
