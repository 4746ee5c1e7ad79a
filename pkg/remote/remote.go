// Package remote starts benchmark processes on other machines and keeps
// track of them until they exit or are killed.
package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
)

// reapGrace bounds how long we wait for a killed process to report back.
var reapGrace = 5 * time.Second

// Output is what a remote process left behind.
type Output struct {
	Host     string
	Command  string
	Combined []byte
	ExitCode int
}

// Process is one in-flight remote process.
type Process interface {
	// Wait blocks until the process exits and returns its combined stdout/stderr.
	Wait() (Output, error)
	// Kill forcibly terminates the process. Calling it more than once is safe.
	Kill() error
}

// Launcher starts remote processes.
type Launcher interface {
	Start(ctx context.Context, host, command string, args ...string) (Process, error)
}

// TransportError means the host could not be reached or the command could not be launched.
type TransportError struct {
	Host    string
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("unable to run %s on %s: %v", e.Command, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProcessTimeoutError means the process outlived its bound and was killed.
type ProcessTimeoutError struct {
	Host    string
	Command string
	Timeout time.Duration
}

func (e *ProcessTimeoutError) Error() string {
	return fmt.Sprintf("%s on %s did not finish within %s", e.Command, e.Host, e.Timeout)
}

// ExitError means the process ran but exited non-zero.
type ExitError struct {
	Host    string
	Command string
	Code    int
	Output  []byte
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s on %s exited with status %d: %s", e.Command, e.Host, e.Code, strings.TrimSpace(string(e.Output)))
}

// RunToCompletion starts a process and waits up to timeout for it to exit.
// The process is killed when the timeout expires or ctx is cancelled.
func RunToCompletion(ctx context.Context, l Launcher, host, command string, args []string, timeout time.Duration) (Output, error) {
	proc, err := l.Start(ctx, host, command, args...)
	if err != nil {
		return Output{Host: host, Command: command}, err
	}
	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := proc.Wait()
		done <- result{out, err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	reap := func() Output {
		if err := proc.Kill(); err != nil {
			log.Debugf("Kill of %s on %s: %v", command, host, err)
		}
		select {
		case r := <-done:
			return r.out
		case <-time.After(reapGrace):
			log.Warnf("😥 %s on %s did not report back after kill", command, host)
			return Output{Host: host, Command: command}
		}
	}

	select {
	case r := <-done:
		return r.out, r.err
	case <-expired:
		out := reap()
		return out, &ProcessTimeoutError{Host: host, Command: command, Timeout: timeout}
	case <-ctx.Done():
		out := reap()
		return out, ctx.Err()
	}
}

// handle adapts a wait function and a kill function into a Process.
type handle struct {
	host    string
	command string

	done chan struct{}
	out  Output
	err  error

	killOnce sync.Once
	kill     func() error
	killErr  error
	killed   atomic.Bool
}

func newHandle(host, command string, wait func() (Output, error), kill func() error) *handle {
	h := &handle{
		host:    host,
		command: command,
		done:    make(chan struct{}),
		kill:    kill,
	}
	go func() {
		h.out, h.err = wait()
		h.out.Host, h.out.Command = host, command
		close(h.done)
	}()
	return h
}

func (h *handle) Wait() (Output, error) {
	<-h.done
	return h.out, h.err
}

func (h *handle) Kill() error {
	h.killOnce.Do(func() {
		h.killed.Store(true)
		select {
		case <-h.done:
			return
		default:
		}
		h.killErr = h.kill()
	})
	return h.killErr
}

// Killed reports whether Kill has been called.
func (h *handle) Killed() bool {
	return h.killed.Load()
}

// Exited reports whether the process is gone.
func (h *handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// syncBuffer collects stdout and stderr written from separate goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}
