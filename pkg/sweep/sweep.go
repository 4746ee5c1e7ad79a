// Package sweep walks the cartesian product of the configured dimensions and
// runs one benchmark pair per point, strictly one after another.
package sweep

import (
	"context"
	"errors"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	result "github.com/cloud-bulldozer/pmem-netperf/pkg/results"
)

// PairRunner measures a single point.
type PairRunner interface {
	Run(ctx context.Context, p config.Point) (result.Data, error)
}

// Controller drives a sweep.
type Controller struct {
	cfg    config.Config
	runner PairRunner
	store  *result.Store
}

// New copies cfg; later changes to the caller's slices do not affect the sweep.
func New(cfg config.Config, runner PairRunner, store *result.Store) *Controller {
	return &Controller{
		cfg:    cfg.Clone(),
		runner: runner,
		store:  store,
	}
}

// Run executes every point in order. A failed point is logged and skipped;
// a PersistenceError or a cancelled context ends the sweep.
func (c *Controller) Run(ctx context.Context) (result.ScenarioResults, error) {
	var sr result.ScenarioResults
	if c.cfg.SkipExisting {
		if _, err := c.store.Load(); err != nil {
			return sr, err
		}
	}
	points := c.cfg.Points()
	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return sr, err
		}
		entry := log.WithFields(p.Fields())
		if c.cfg.SkipExisting && c.store.Has(p) {
			entry.Infof("⏭️  [%d/%d] Already recorded, skipping", i+1, len(points))
			sr.Skipped = append(sr.Skipped, p)
			continue
		}
		entry.Infof("🚀 [%d/%d] Running %s", i+1, len(points), p.Benchmark)
		data, err := c.runner.Run(ctx, p)
		if err != nil {
			sr.Failed = append(sr.Failed, data)
			var pe *result.PersistenceError
			if errors.As(err, &pe) {
				entry.Errorf("💥 Result store is no longer durable, aborting sweep: %v", err)
				return sr, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				entry.Warnf("Sweep interrupted: %v", err)
				return sr, ctxErr
			}
			entry.Errorf("😥 Point failed: %v", err)
			continue
		}
		entry.Infof("✅ %d ops, %d ns avg latency, %f GB/s", data.Sample.Ops, data.Sample.Latency, data.Sample.Throughput)
		sr.Results = append(sr.Results, data)
	}
	log.Infof("🏁 Sweep finished: %d recorded, %d failed, %d skipped", len(sr.Results), len(sr.Failed), len(sr.Skipped))
	return sr, nil
}
