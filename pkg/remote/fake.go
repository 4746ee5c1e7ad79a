package remote

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// errKilled is what a fake process reports after Kill.
var errKilled = errors.New("killed")

// FakeResult scripts how a fake process behaves.
type FakeResult struct {
	Output   string
	ExitCode int
	// Delay before the process exits on its own.
	Delay time.Duration
	// Block keeps the process running until it is killed.
	Block bool
	// StartErr fails the launch itself.
	StartErr error
}

// FakeHandler decides the behaviour of every process started on a FakeLauncher.
type FakeHandler func(host, command string, args []string) FakeResult

// FakeLauncher runs scripted processes in-process. It is meant for tests.
type FakeLauncher struct {
	Handler FakeHandler

	mu    sync.Mutex
	procs []*FakeProcess
}

// NewFakeLauncher returns a launcher driven by handler.
func NewFakeLauncher(handler FakeHandler) *FakeLauncher {
	return &FakeLauncher{Handler: handler}
}

// FakeProcess is a scripted process started by a FakeLauncher.
type FakeProcess struct {
	*handle
	Host    string
	Command string
	Args    []string
}

// Start records the launch and starts the scripted process.
func (f *FakeLauncher) Start(ctx context.Context, host, command string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := f.Handler(host, command, args)
	if res.StartErr != nil {
		return nil, &TransportError{Host: host, Command: command, Err: res.StartErr}
	}
	killCh := make(chan struct{})
	var once sync.Once
	wait := func() (Output, error) {
		var timer <-chan time.Time
		if !res.Block {
			t := time.NewTimer(res.Delay)
			defer t.Stop()
			timer = t.C
		}
		select {
		case <-timer:
		case <-killCh:
			return Output{Combined: []byte(res.Output), ExitCode: -1}, &ExitError{Host: host, Command: command, Code: -1, Output: []byte(errKilled.Error())}
		}
		o := Output{Combined: []byte(res.Output), ExitCode: res.ExitCode}
		if res.ExitCode != 0 {
			return o, &ExitError{Host: host, Command: command, Code: res.ExitCode, Output: o.Combined}
		}
		return o, nil
	}
	kill := func() error {
		once.Do(func() { close(killCh) })
		return nil
	}
	p := &FakeProcess{
		handle:  newHandle(host, command, wait, kill),
		Host:    host,
		Command: command,
		Args:    slices.Clone(args),
	}
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()
	return p, nil
}

// Processes returns every process started so far, in launch order.
func (f *FakeLauncher) Processes() []*FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.procs)
}

// Running returns the processes that have not exited yet.
func (f *FakeLauncher) Running() []*FakeProcess {
	var running []*FakeProcess
	for _, p := range f.Processes() {
		if !p.Exited() {
			running = append(running, p)
		}
	}
	return running
}
