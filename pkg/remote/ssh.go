package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	"github.com/melbahja/goph"
	"golang.org/x/crypto/ssh"
)

// SSHLauncher runs processes over one cached ssh connection per host.
type SSHLauncher struct {
	cfg config.SSH

	mu      sync.Mutex
	clients map[string]*goph.Client
}

// NewSSHLauncher returns a launcher that dials hosts lazily.
func NewSSHLauncher(cfg config.SSH) *SSHLauncher {
	return &SSHLauncher{
		cfg:     cfg,
		clients: make(map[string]*goph.Client),
	}
}

// expandHome resolves a leading ~ in a key path.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("Unable to retrieve users homedir. %s", err)
	}
	return filepath.Join(dir, strings.TrimPrefix(path, "~")), nil
}

func (l *SSHLauncher) auth() (goph.Auth, error) {
	key, err := expandHome(l.cfg.Key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(key); err == nil {
		auth, err := goph.Key(key, "")
		if err != nil {
			return nil, fmt.Errorf("Unable to retrieve sshkey. Error : %s", err)
		}
		return auth, nil
	}
	log.Debugf("No key at %s, falling back to ssh-agent", key)
	return goph.UseAgent()
}

func (l *SSHLauncher) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if l.cfg.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return goph.DefaultKnownHosts()
}

// connect sets up the ssh config, then attempts to connect to the host.
func (l *SSHLauncher) connect(host string) (*goph.Client, error) {
	auth, err := l.auth()
	if err != nil {
		return nil, err
	}
	callback, err := l.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	user := l.cfg.User
	if user == "" {
		user = os.Getenv("USER")
	}
	port := l.cfg.Port
	if port == 0 {
		port = 22
	}
	timeout := l.cfg.Timeout
	if timeout == 0 {
		timeout = goph.DefaultTimeout
	}
	log.Debugf("Attempting to connect with : %s@%s:%d", user, host, port)
	return goph.NewConn(&goph.Config{
		User:     user,
		Addr:     host,
		Port:     port,
		Auth:     auth,
		Timeout:  timeout,
		Callback: callback,
	})
}

func (l *SSHLauncher) client(host string) (*goph.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[host]; ok {
		return c, nil
	}
	c, err := l.connect(host)
	if err != nil {
		return nil, err
	}
	l.clients[host] = c
	return c, nil
}

// forget drops a cached connection that stopped working.
func (l *SSHLauncher) forget(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[host]; ok {
		c.Close()
		delete(l.clients, host)
	}
}

// Start launches command on host inside its own session. The session gets a
// pty so that tearing it down hangs up the remote process as well.
func (l *SSHLauncher) Start(ctx context.Context, host, command string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := l.client(host)
	if err != nil {
		return nil, &TransportError{Host: host, Command: command, Err: err}
	}
	cmd, err := c.Command(command, args...)
	if err != nil {
		l.forget(host)
		return nil, &TransportError{Host: host, Command: command, Err: err}
	}
	out := &syncBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.RequestPty("xterm", 40, 200, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
		cmd.Close()
		return nil, &TransportError{Host: host, Command: command, Err: err}
	}
	log.Debugf("%s: %s", host, cmd.String())
	if err := cmd.Start(); err != nil {
		cmd.Close()
		return nil, &TransportError{Host: host, Command: command, Err: err}
	}

	wait := func() (Output, error) {
		err := cmd.Wait()
		cmd.Close()
		o := Output{Combined: out.Bytes()}
		if err == nil {
			return o, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			o.ExitCode = exitErr.ExitStatus()
			return o, &ExitError{Host: host, Command: command, Code: o.ExitCode, Output: o.Combined}
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			o.ExitCode = -1
			return o, &ExitError{Host: host, Command: command, Code: o.ExitCode, Output: o.Combined}
		}
		o.ExitCode = -1
		return o, &TransportError{Host: host, Command: command, Err: err}
	}
	kill := func() error {
		if err := cmd.Signal(ssh.SIGKILL); err != nil {
			log.Debugf("Signal to %s on %s: %v", command, host, err)
		}
		if err := cmd.Close(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
	return newHandle(host, command, wait, kill), nil
}

// Close tears down every cached connection.
func (l *SSHLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for host, c := range l.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", host, err))
		}
		delete(l.clients, host)
	}
	return errors.Join(errs...)
}
