// Package shell owns the single persistent shell session used for command
// execution. The Manager serializes access to it: the terminal stream has
// no per-command demultiplexing, so exactly one command may be in flight
// at a time and concurrent callers block until the session is free.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/gulfsync/gulfsync/internal/protocol"
)

// ErrEmptyCommand is returned for requests with nothing to execute.
var ErrEmptyCommand = errors.New("empty command")

// Request describes one command execution. Immutable once submitted.
type Request struct {
	Command string
	// Dir optionally overrides the tracked working directory for this and
	// subsequent commands. Must already be normalized by the caller.
	Dir string
	// Timeout bounds the wait for completion. Zero means the manager's
	// default.
	Timeout time.Duration
}

// Result is the outcome of one Request.
type Result struct {
	Output string
	// Stderr is protocol-derived and may be empty even on failure: the raw
	// terminal stream interleaves stdout and stderr into Output.
	Stderr string
	// ExitCode is nil when no completion marker was observed (timeout or
	// session death); zero would falsely imply success.
	ExitCode   *int
	WorkingDir string
	TimedOut   bool
	// Restarted reports that the session died and a fresh one was started.
	// The failed command is reported, never replayed.
	Restarted bool
}

// Config holds session behavior settings.
type Config struct {
	// Program is the interactive shell to run, e.g. /bin/sh.
	Program string
	// Interpreter runs script snippets, e.g. /bin/sh or python3.
	Interpreter string
	// DefaultTimeout bounds command completion waits.
	DefaultTimeout time.Duration
	// PollInterval is the short wait used inside the completion loop.
	PollInterval time.Duration
}

func (c *Config) defaults() {
	if c.Program == "" {
		c.Program = "/bin/sh"
	}
	if c.Interpreter == "" {
		c.Interpreter = "/bin/sh"
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
}

// Manager owns at most one session at a time. The session is lazily
// created on first Execute and recreated after death or timeout teardown.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	// gate serializes Execute; it also guards sess and the tracked
	// working directory.
	gate chan struct{}
	sess *session

	workingDir string
}

// NewManager creates a session manager. No process is spawned until the
// first command runs.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	cfg.defaults()
	m := &Manager{
		cfg:    cfg,
		logger: logger.With().Str("component", "shell_session").Logger(),
		gate:   make(chan struct{}, 1),
	}
	m.gate <- struct{}{}
	return m
}

// WorkingDir returns the tracked working directory: the directory reported
// by the protocol after the most recent successfully parsed command.
func (m *Manager) WorkingDir() string {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	return m.workingDir
}

// Alive reports whether a session currently exists and its process has not
// exited.
func (m *Manager) Alive() bool {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	return m.sess != nil && m.sess.alive()
}

// Execute runs one command in the persistent session and waits for its
// completion marker. Callers block while another command is in flight.
func (m *Manager) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Command == "" {
		return Result{}, ErrEmptyCommand
	}

	select {
	case <-m.gate:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { m.gate <- struct{}{} }()

	return m.executeLocked(ctx, req)
}

// ExecuteScript writes a script snippet to a temporary file and runs it
// through the configured interpreter inside the same session.
func (m *Manager) ExecuteScript(ctx context.Context, code, dir string, timeout time.Duration) (Result, error) {
	if code == "" {
		return Result{}, ErrEmptyCommand
	}

	f, err := os.CreateTemp("", "gulfsync-script-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create script file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close script file: %w", err)
	}

	return m.Execute(ctx, Request{
		Command: fmt.Sprintf("%s '%s'", m.cfg.Interpreter, path),
		Dir:     dir,
		Timeout: timeout,
	})
}

// Stop tears down the session. Idempotent: stopping an already-stopped
// manager is a no-op. The next Execute starts a fresh session.
func (m *Manager) Stop() {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.sess == nil {
		return
	}
	m.logger.Debug().Msg("stopping shell session")
	m.sess.close()
	m.sess = nil
}

// ensureSessionLocked lazily starts the session and records the initial
// tracked directory from a protocol round trip.
func (m *Manager) ensureSessionLocked(ctx context.Context) error {
	if m.sess != nil && m.sess.alive() {
		return nil
	}
	if m.sess != nil {
		m.stopLocked()
	}

	sess, err := startSession(m.cfg.Program)
	if err != nil {
		// Inability to spawn any session at all is the one fatal case.
		return err
	}
	m.sess = sess
	m.logger.Info().Str("program", m.cfg.Program).Int("pid", sess.cmd.Process.Pid).Msg("shell session started")

	// Sync once so startup noise is consumed and the initial directory is
	// protocol-confirmed rather than guessed.
	res := m.runLocked(ctx, ":", m.cfg.DefaultTimeout)
	if res.ExitCode == nil {
		m.stopLocked()
		return errors.New("session failed initial protocol sync")
	}
	m.workingDir = res.WorkingDir
	return nil
}

func (m *Manager) executeLocked(ctx context.Context, req Request) (Result, error) {
	if err := m.ensureSessionLocked(ctx); err != nil {
		return Result{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	// Directory overrides go through the protocol as a separate command so
	// the change is confirmed, not assumed.
	if req.Dir != "" && req.Dir != m.workingDir {
		cdRes := m.runLocked(ctx, fmt.Sprintf("cd '%s'", req.Dir), timeout)
		if cdRes.ExitCode == nil {
			return m.recoverLocked(ctx, cdRes)
		}
		if *cdRes.ExitCode != 0 {
			m.logger.Warn().Str("dir", req.Dir).Msg("directory change rejected by shell")
		}
		m.workingDir = cdRes.WorkingDir
	}

	res := m.runLocked(ctx, req.Command, timeout)
	if res.ExitCode == nil && !res.TimedOut {
		return m.recoverLocked(ctx, res)
	}
	if res.TimedOut {
		// A detached command that outlived its deadline keeps running and
		// would corrupt the next command's marker framing, so the session
		// is torn down; the next command starts a fresh one.
		m.logger.Warn().Str("command", req.Command).Dur("timeout", timeout).Msg("command timed out, restarting session")
		m.stopLocked()
		res.WorkingDir = m.workingDir
		return res, nil
	}

	m.workingDir = res.WorkingDir
	return res, nil
}

// recoverLocked handles unexpected session death: it starts a fresh
// session and surfaces the original command as failed with a restart
// annotation. The command is never replayed.
func (m *Manager) recoverLocked(ctx context.Context, failed Result) (Result, error) {
	m.logger.Warn().Msg("shell session died, restarting")
	m.stopLocked()
	if err := m.ensureSessionLocked(ctx); err != nil {
		return failed, fmt.Errorf("session died and restart failed: %w", err)
	}
	failed.Restarted = true
	failed.WorkingDir = m.workingDir
	return failed, nil
}

// runLocked performs one protocol round trip: encode with a fresh marker,
// write, then poll the session's output with short bounded waits until the
// marker arrives or the deadline passes.
func (m *Manager) runLocked(ctx context.Context, command string, timeout time.Duration) Result {
	marker := protocol.NewMarker()
	payload := protocol.Encode(command, marker)
	dec := protocol.NewDecoder(marker)

	m.sess.drain()
	if err := m.sess.write([]byte(payload)); err != nil {
		m.logger.Debug().Err(err).Msg("write to session failed")
		return Result{Output: dec.Partial()}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case chunk, ok := <-m.sess.out:
			if !ok {
				// Session died mid-command.
				return Result{Output: dec.Partial()}
			}
			dec.Feed(chunk)
			if c := dec.Completion(); c != nil {
				code := c.ExitCode
				return Result{
					Output:     c.Output,
					ExitCode:   &code,
					WorkingDir: c.WorkingDir,
				}
			}
		case <-poll.C:
			if c := dec.Completion(); c != nil {
				code := c.ExitCode
				return Result{
					Output:     c.Output,
					ExitCode:   &code,
					WorkingDir: c.WorkingDir,
				}
			}
		case <-deadline.C:
			return Result{Output: dec.Partial(), TimedOut: true}
		case <-ctx.Done():
			return Result{Output: dec.Partial(), TimedOut: true}
		}
	}
}
