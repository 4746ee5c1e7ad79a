package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	"github.com/mattn/go-shellwords"
)

// sshUnreachable is the status ssh(1) exits with when it cannot connect.
const sshUnreachable = 255

// ExecLauncher shells out to a remote execution command such as ssh(1):
// <prefix...> <host> <command> <args...>
type ExecLauncher struct {
	prefix []string
}

// NewExecLauncher parses the remote execution command line.
func NewExecLauncher(remoteExec string) (*ExecLauncher, error) {
	prefix, err := shellwords.Parse(remoteExec)
	if err != nil {
		return nil, fmt.Errorf("parsing remote exec command %q: %w", remoteExec, err)
	}
	if len(prefix) == 0 {
		return nil, fmt.Errorf("remote exec command is empty")
	}
	return &ExecLauncher{prefix: prefix}, nil
}

func (l *ExecLauncher) isSSH() bool {
	return filepath.Base(l.prefix[0]) == "ssh"
}

// Start runs the remote execution command locally and tracks it.
func (l *ExecLauncher) Start(ctx context.Context, host, command string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	argv := make([]string, 0, len(l.prefix)+2+len(args))
	argv = append(argv, l.prefix...)
	argv = append(argv, host, command)
	argv = append(argv, args...)

	out := &syncBuffer{}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	// children of the remote exec command can hold the output pipe past a kill
	cmd.WaitDelay = reapGrace
	log.Debug(argv)
	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Host: host, Command: command, Err: err}
	}

	wait := func() (Output, error) {
		err := cmd.Wait()
		o := Output{Combined: out.Bytes()}
		if err == nil {
			return o, nil
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			o.ExitCode = -1
			return o, &TransportError{Host: host, Command: command, Err: err}
		}
		o.ExitCode = exitErr.ExitCode()
		if l.isSSH() && o.ExitCode == sshUnreachable {
			return o, &TransportError{Host: host, Command: command, Err: fmt.Errorf("ssh exited %d: %s", o.ExitCode, o.Combined)}
		}
		return o, &ExitError{Host: host, Command: command, Code: o.ExitCode, Output: o.Combined}
	}
	kill := func() error {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
	return newHandle(host, command, wait, kill), nil
}
