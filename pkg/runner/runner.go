// Package runner executes one sweep point: a benchmark server and client
// pair on two hosts, followed by merging the client's metrics into the
// result store.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/drivers"
	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/remote"
	result "github.com/cloud-bulldozer/pmem-netperf/pkg/results"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/sample"
)

// serverReap bounds the wait for a killed server to report back.
var serverReap = 5 * time.Second

// PointError ties a failure to the sweep point it happened on.
type PointError struct {
	Point config.Point
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("%s: %v", e.Point, e.Err)
}

func (e *PointError) Unwrap() error {
	return e.Err
}

// Merger persists the record of a finished point.
type Merger interface {
	MergeAndSave(p config.Point, s sample.Sample) error
}

// Runner drives benchmark pairs.
type Runner struct {
	cfg      config.Config
	launcher remote.Launcher
	store    Merger
	drivers  map[string]drivers.Driver
}

// New builds a Runner for every benchmark in cfg.
func New(cfg config.Config, launcher remote.Launcher, store Merger) (*Runner, error) {
	d, err := drivers.NewDrivers(cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:      cfg.Clone(),
		launcher: launcher,
		store:    store,
		drivers:  d,
	}, nil
}

// Run measures p, cfg.Samples times, and merges the mean into the store.
// Nothing is stored unless every sample succeeded.
func (r *Runner) Run(ctx context.Context, p config.Point) (result.Data, error) {
	data := result.Data{Point: p, Samples: r.cfg.Samples, StartTime: time.Now()}
	fail := func(err error) (result.Data, error) {
		data.EndTime = time.Now()
		data.Err = &PointError{Point: p, Err: err}
		return data, data.Err
	}
	drv, ok := r.drivers[p.Benchmark]
	if !ok {
		return fail(fmt.Errorf("unknown benchmark: %s", p.Benchmark))
	}
	samples := make([]sample.Sample, 0, r.cfg.Samples)
	for i := 0; i < r.cfg.Samples; i++ {
		log.WithFields(p.Fields()).Debugf("Sample %d/%d", i+1, r.cfg.Samples)
		s, err := r.runPair(ctx, drv, p)
		if err != nil {
			return fail(err)
		}
		samples = append(samples, s)
	}
	rec, err := sample.Mean(samples)
	if err != nil {
		return fail(err)
	}
	data.Sample = rec
	data.ThroughputSummary = sample.Throughputs(samples)
	data.LatencySummary = sample.Latencies(samples)
	if err := r.store.MergeAndSave(p, rec); err != nil {
		return fail(err)
	}
	data.EndTime = time.Now()
	return data, nil
}

// runPair starts the server, gives it the settle delay to bind, runs the
// client to completion and always kills the server afterwards.
func (r *Runner) runPair(ctx context.Context, drv drivers.Driver, p config.Point) (sample.Sample, error) {
	entry := log.WithFields(p.Fields())
	serverArgs := drv.ServerArgs(p)
	entry.Debugf("Server %s: %s %s", r.cfg.Server.Host, drv.Executable(), strings.Join(serverArgs, " "))
	server, err := r.launcher.Start(ctx, r.cfg.Server.Host, drv.Executable(), serverArgs...)
	if err != nil {
		return sample.Sample{}, err
	}
	defer r.stopServer(p, server)

	if err := settle(ctx, r.cfg.Settle); err != nil {
		return sample.Sample{}, err
	}

	clientArgs := drv.ClientArgs(p)
	entry.Debugf("🔥 Client %s: %s %s", r.cfg.Client.Host, drv.Executable(), strings.Join(clientArgs, " "))
	out, err := remote.RunToCompletion(ctx, r.launcher, r.cfg.Client.Host, drv.Executable(), clientArgs, r.cfg.ClientWait())
	if err != nil {
		return sample.Sample{}, err
	}
	return drv.ParseResults(out.Combined)
}

// stopServer kills the server and reaps it. The server never exits on its own.
func (r *Runner) stopServer(p config.Point, server remote.Process) {
	entry := log.WithFields(p.Fields())
	if err := server.Kill(); err != nil {
		entry.Warnf("Unable to kill server on %s: %v", r.cfg.Server.Host, err)
	}
	done := make(chan remote.Output, 1)
	go func() {
		out, _ := server.Wait()
		done <- out
	}()
	select {
	case out := <-done:
		entry.Debugf("Server output: %s", strings.TrimSpace(string(out.Combined)))
	case <-time.After(serverReap):
		entry.Warnf("😥 Server on %s did not report back %s after kill", r.cfg.Server.Host, serverReap)
	}
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
