// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/tether/lib/clock"
)

// State is a supervisor state.
type State int

const (
	Idle State = iota
	Starting
	Running
	Restarting
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var (
	// ErrTunnelFatal is wrapped by FatalError.
	ErrTunnelFatal = errors.New("tunnel failed permanently")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("tunnel session closed")

	// ErrPortUnavailable is returned by Start when the local forwarding
	// port cannot be bound.
	ErrPortUnavailable = errors.New("tunnel local port unavailable")
)

// FatalError reports that the restart limit was exceeded.
type FatalError struct {
	Host     string
	Failures int

	// LastExit is the wait or spawn error of the final run.
	LastExit error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("tunnel to %s failed %d consecutive times, giving up (last: %v)", e.Host, e.Failures, e.LastExit)
}

func (e *FatalError) Unwrap() error { return ErrTunnelFatal }

// Transition describes one state change. Err is the exit or spawn error
// that caused it, if any.
type Transition struct {
	From       State
	To         State
	RetryCount int
	Err        error
}

// Status is a snapshot of a session.
type Status struct {
	ID         string
	State      State
	RetryCount int
	Spawns     int
	PID        int
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option { return func(s *Session) { s.clock = c } }

// WithSpawner replaces the os/exec spawner.
func WithSpawner(spawner Spawner) Option { return func(s *Session) { s.spawner = spawner } }

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(logger *slog.Logger) Option { return func(s *Session) { s.logger = logger } }

// WithObserver registers fn to be called on every state transition. fn
// runs with the session lock held and must not call back into the
// Session.
func WithObserver(fn func(Transition)) Option { return func(s *Session) { s.observer = fn } }

// WithoutPortCheck skips the local port check in Start.
func WithoutPortCheck() Option { return func(s *Session) { s.skipPortCheck = true } }

// Session supervises one tunnel process. It is owned by a single client
// daemon; all methods are safe for concurrent use.
type Session struct {
	config        Config
	argv          []string
	id            string
	clock         clock.Clock
	spawner       Spawner
	logger        *slog.Logger
	observer      func(Transition)
	skipPortCheck bool

	mu         sync.Mutex
	state      State
	retryCount int
	spawns     int
	current    Process
	started    bool
	stopping   bool
	fatal      *FatalError

	stopRequested chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// New validates config and returns an Idle session.
func New(config Config, options ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	session := &Session{
		config:        config,
		argv:          config.Command(),
		id:            uuid.NewString(),
		clock:         clock.Real(),
		spawner:       ExecSpawner{},
		logger:        slog.New(slog.DiscardHandler),
		stopRequested: make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(session)
	}
	session.logger = session.logger.With("tunnel", session.id, "host", config.Host)
	return session, nil
}

// Start spawns the tunnel process and launches the monitor. A spawn
// failure is returned and leaves the session Idle; Start may be retried.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return ErrClosed
	}
	if s.started {
		return fmt.Errorf("tunnel session already started (state %v)", s.state)
	}
	if !s.skipPortCheck {
		if err := checkLocalPort(s.config.LocalPort); err != nil {
			return err
		}
	}

	s.transitionLocked(Starting, nil)
	child, err := s.spawnLocked()
	if err != nil {
		s.transitionLocked(Idle, err)
		return err
	}
	s.started = true
	go s.monitor(child)
	return nil
}

// Close stops the tunnel and waits for the monitor to exit. It returns
// the session's fatal error, if the restart limit was exceeded before or
// during the stop. Calling Close more than once is safe.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		switch s.state {
		case Starting, Running, Restarting:
			s.transitionLocked(Stopping, nil)
		}
		s.mu.Unlock()
		close(s.stopRequested)
	})

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
	return s.Err()
}

// Done is closed when the monitor exits, either after Close or because
// the restart limit was exceeded. It never closes for a session that
// was not started.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the *FatalError once the restart limit has been exceeded,
// and nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		return nil
	}
	return s.fatal
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{ID: s.id, State: s.state, RetryCount: s.retryCount, Spawns: s.spawns}
	if s.current != nil {
		status.PID = s.current.PID()
	}
	return status
}

// monitor owns the tunnel process from the first spawn until the session
// stops or fails.
func (s *Session) monitor(child Process) {
	defer close(s.done)

	var spawnErr error
	for {
		var exitErr error
		if child != nil {
			stopped, err := s.watch(child)
			if stopped {
				s.terminate(child)
				s.finish()
				return
			}
			exitErr = err
			s.logger.Warn("tunnel process exited", "pid", child.PID(), "error", exitErr)
		} else {
			exitErr = spawnErr
		}

		s.mu.Lock()
		s.current = nil
		if s.stopping {
			s.transitionLocked(Idle, exitErr)
			s.mu.Unlock()
			return
		}
		s.retryCount++
		if s.retryCount > s.config.MaxRetries {
			s.fatal = &FatalError{Host: s.config.Host, Failures: s.retryCount, LastExit: exitErr}
			s.transitionLocked(Failed, s.fatal)
			s.logger.Error("tunnel restart limit exceeded", "failures", s.retryCount)
			s.mu.Unlock()
			return
		}
		s.transitionLocked(Restarting, exitErr)
		s.mu.Unlock()

		if !s.pause() {
			s.finish()
			return
		}

		s.mu.Lock()
		if s.stopping {
			s.transitionLocked(Idle, nil)
			s.mu.Unlock()
			return
		}
		s.transitionLocked(Starting, nil)
		child, spawnErr = s.spawnLocked()
		s.mu.Unlock()
	}
}

// watch blocks until child exits or Close is called. Surviving the
// grace period promotes the session to Running and clears the retry
// count.
func (s *Session) watch(child Process) (stopped bool, exitErr error) {
	grace := s.clock.NewTimer(s.config.GracePeriod)
	defer grace.Stop()

	for {
		select {
		case <-child.Exited():
			return false, child.ExitError()
		case <-s.stopRequested:
			return true, nil
		case <-grace.C:
			s.mu.Lock()
			if !s.stopping {
				s.retryCount = 0
				s.transitionLocked(Running, nil)
			}
			s.mu.Unlock()
		}
	}
}

// pause waits out the restart delay. Returns false if Close was called.
func (s *Session) pause() bool {
	delay := s.clock.NewTimer(s.config.RestartDelay)
	select {
	case <-delay.C:
		return true
	case <-s.stopRequested:
		delay.Stop()
		return false
	}
}

// terminate asks child to exit, then kills it after StopTimeout.
func (s *Session) terminate(child Process) {
	if err := child.Signal(unix.SIGTERM); err != nil {
		s.logger.Warn("signalling tunnel process", "pid", child.PID(), "error", err)
	}
	deadline := s.clock.NewTimer(s.config.StopTimeout)
	select {
	case <-child.Exited():
		deadline.Stop()
		return
	case <-deadline.C:
	}
	s.logger.Warn("tunnel process ignored SIGTERM, killing", "pid", child.PID(), "timeout", s.config.StopTimeout)
	if err := child.Signal(unix.SIGKILL); err != nil {
		s.logger.Error("killing tunnel process", "pid", child.PID(), "error", err)
	}
	<-child.Exited()
}

func (s *Session) finish() {
	s.mu.Lock()
	s.current = nil
	s.transitionLocked(Idle, nil)
	s.mu.Unlock()
}

// spawnLocked starts a new run. Caller holds s.mu and has checked the
// stop flag.
func (s *Session) spawnLocked() (Process, error) {
	s.spawns++
	child, err := s.spawner.Spawn(s.argv)
	if err != nil {
		s.logger.Error("spawning tunnel process", "error", err)
		return nil, fmt.Errorf("spawning tunnel to %s: %w", s.config.Host, err)
	}
	s.current = child
	s.logger.Info("tunnel process started",
		"pid", child.PID(),
		"local_port", s.config.LocalPort,
		"remote_port", s.config.RemotePort,
		"spawn", s.spawns,
	)
	return child, nil
}

func (s *Session) transitionLocked(to State, cause error) {
	from := s.state
	s.state = to
	s.logger.Debug("tunnel state", "from", from, "to", to, "retry_count", s.retryCount)
	if s.observer != nil {
		s.observer(Transition{From: from, To: to, RetryCount: s.retryCount, Err: cause})
	}
}

// checkLocalPort fails if port cannot be bound on loopback right now.
func checkLocalPort(port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: %d: %v", ErrPortUnavailable, port, err)
	}
	return listener.Close()
}
