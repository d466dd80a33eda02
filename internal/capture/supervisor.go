package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Status represents the current state of the sensor helper.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start while the helper is supervised.
	ErrAlreadyRunning = errors.New("sensor helper already running")

	// ErrUnexpectedExit is recorded when the helper exits with status 0
	// without being asked to stop.
	ErrUnexpectedExit = errors.New("sensor helper exited unexpectedly")
)

// Default values applied by NewSupervisor for zero Config fields.
const (
	defaultName            = "sensor-helper"
	defaultRestartDelay    = time.Second
	defaultMaxRestartDelay = time.Minute
	defaultStableThreshold = 2 * time.Minute
	defaultStopTimeout     = 5 * time.Second
	defaultMaxLineBytes    = 64 * 1024
	minLineBytes           = 16
)

// Config holds the sensor helper command and its restart policy.
type Config struct {
	// Name identifies the helper in logs and stats.
	Name string

	// Command is the path to the helper executable.
	Command string

	// Args are passed to the helper unchanged.
	Args []string

	// Env are extra KEY=value pairs appended to the kiosk's environment.
	Env []string

	// WorkDir is the helper's working directory. Empty inherits ours.
	WorkDir string

	// RestartDelay is the backoff before the first restart. Each further
	// consecutive failure doubles it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last before its exit stops
	// counting as a consecutive failure.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// StopTimeout is how long the helper gets to exit after SIGTERM
	// before its process group is killed.
	StopTimeout time.Duration

	// MaxLineBytes bounds one sample line. Longer lines are discarded.
	MaxLineBytes int
}

// SampleHandler receives one encoded sample per helper stdout line.
// It is called from the stdout reader and must not block.
type SampleHandler func(sample string)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs the sensor helper and feeds its samples to a handler.
type Supervisor struct {
	cfg    Config
	handle SampleHandler
	logger Logger

	samples   atomic.Uint64
	discarded atomic.Uint64

	mu        sync.Mutex
	status    Status
	pid       int
	started   time.Time
	restarts  int
	lastErr   error
	stopping  bool
	cancelRun context.CancelFunc
	quit      chan struct{}
	done      chan struct{}
}

// NewSupervisor creates a supervisor for the helper described by cfg.
// A nil handler discards samples.
func NewSupervisor(cfg Config, handle SampleHandler) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.MaxLineBytes < minLineBytes {
		cfg.MaxLineBytes = minLineBytes
	}
	if handle == nil {
		handle = func(string) {}
	}

	return &Supervisor{
		cfg:    cfg,
		handle: handle,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the helper and supervises it until ctx is cancelled or
// Stop is called. It returns an error only if the first launch fails.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusStopped && s.status != StatusFailed {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	s.status = StatusStarting
	s.stopping = false
	s.lastErr = nil
	s.quit = make(chan struct{})
	s.done = done
	s.mu.Unlock()

	r, err := s.launch(ctx)
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		s.done = nil
		s.mu.Unlock()
		close(done)
		return err
	}

	go s.supervise(ctx, r, done)
	return nil
}

// helperRun is one execution of the helper.
type helperRun struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdout  *io.PipeWriter
	stderr  *io.PipeWriter
	readers sync.WaitGroup
	started time.Time
}

// wait blocks until the helper exits and its output has been consumed.
func (r *helperRun) wait() error {
	err := r.cmd.Wait()
	r.stdout.Close()
	r.stderr.Close()
	r.readers.Wait()
	r.cancel()
	return err
}

// launch starts one helper process in its own process group.
func (s *Supervisor) launch(ctx context.Context) (*helperRun, error) {
	s.logger.Info("starting sensor helper",
		"name", s.cfg.Name,
		"command", s.cfg.Command,
		"args", s.cfg.Args,
	)

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.cfg.Command, s.cfg.Args...) //nolint:gosec // Command comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.StopTimeout
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	if s.cfg.WorkDir != "" {
		cmd.Dir = s.cfg.WorkDir
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		cancel()
		outW.Close()
		errW.Close()
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	r := &helperRun{
		cmd:     cmd,
		cancel:  cancel,
		stdout:  outW,
		stderr:  errW,
		started: time.Now(),
	}
	r.readers.Add(2)
	go func() {
		defer r.readers.Done()
		s.readSamples(outR)
	}()
	go func() {
		defer r.readers.Done()
		s.logDiagnostics(errR)
	}()

	s.mu.Lock()
	s.status = StatusRunning
	s.pid = cmd.Process.Pid
	s.started = r.started
	s.cancelRun = cancel
	stopping := s.stopping
	s.mu.Unlock()

	// Stop raced with this launch; let supervise reap the process.
	if stopping {
		cancel()
	}

	s.logger.Info("sensor helper started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return r, nil
}

// readSamples hands each non-blank stdout line to the handler.
// Lines longer than MaxLineBytes are skipped whole.
func (s *Supervisor) readSamples(r io.Reader) {
	br := bufio.NewReaderSize(r, s.cfg.MaxLineBytes)
	for {
		line, isPrefix, err := br.ReadLine()
		if isPrefix {
			for isPrefix && err == nil {
				_, isPrefix, err = br.ReadLine()
			}
			s.discarded.Add(1)
			s.logger.Warn("sample line too long, discarded",
				"name", s.cfg.Name,
				"limit", s.cfg.MaxLineBytes,
			)
		} else if sample := strings.TrimSpace(string(line)); sample != "" {
			s.samples.Add(1)
			s.handle(sample)
		}
		if err != nil {
			return
		}
	}
}

// logDiagnostics forwards helper stderr to the debug log.
func (s *Supervisor) logDiagnostics(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("sensor helper output", "name", s.cfg.Name, "line", sc.Text())
	}
	// Keep the pipe drained if a line overflowed the scanner.
	_, _ = io.Copy(io.Discard, r)
}

// supervise waits for each run to end and restarts the helper with backoff.
func (s *Supervisor) supervise(ctx context.Context, r *helperRun, done chan struct{}) {
	defer close(done)

	consecutive := 0
	for {
		err := r.wait()
		ran := time.Since(r.started)

		s.mu.Lock()
		s.pid = 0
		stopping := s.stopping
		quit := s.quit
		s.mu.Unlock()

		if stopping || ctx.Err() != nil {
			s.setStopped()
			s.logger.Info("sensor helper stopped", "name", s.cfg.Name)
			return
		}

		if err == nil {
			err = ErrUnexpectedExit
		}
		if ran >= s.cfg.StableThreshold {
			consecutive = 0
		}
		consecutive++

		s.logger.Warn("sensor helper exited",
			"name", s.cfg.Name,
			"error", err,
			"ran", ran,
			"consecutive_failures", consecutive,
		)

		if s.cfg.MaxRestartAttempts > 0 && consecutive > s.cfg.MaxRestartAttempts {
			s.mu.Lock()
			s.status = StatusFailed
			s.lastErr = err
			s.mu.Unlock()
			s.logger.Error("sensor helper restart limit reached",
				"name", s.cfg.Name,
				"attempts", s.cfg.MaxRestartAttempts,
			)
			return
		}

		delay := s.backoff(consecutive)
		s.mu.Lock()
		s.status = StatusBackoff
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Info("restarting sensor helper", "name", s.cfg.Name, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStopped()
			return
		case <-quit:
			timer.Stop()
			s.setStopped()
			return
		case <-timer.C:
		}

		next, launchErr := s.launch(ctx)
		for launchErr != nil {
			consecutive++
			if s.cfg.MaxRestartAttempts > 0 && consecutive > s.cfg.MaxRestartAttempts {
				s.mu.Lock()
				s.status = StatusFailed
				s.lastErr = launchErr
				s.mu.Unlock()
				s.logger.Error("sensor helper restart limit reached",
					"name", s.cfg.Name,
					"error", launchErr,
				)
				return
			}
			s.mu.Lock()
			s.status = StatusBackoff
			s.lastErr = launchErr
			s.mu.Unlock()
			s.logger.Error("failed to restart sensor helper", "name", s.cfg.Name, "error", launchErr)

			timer.Reset(s.backoff(consecutive))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.setStopped()
				return
			case <-quit:
				timer.Stop()
				s.setStopped()
				return
			case <-timer.C:
			}
			next, launchErr = s.launch(ctx)
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		r = next
	}
}

func (s *Supervisor) setStopped() {
	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()
}

// backoff returns the delay before restart attempt n (1-based).
func (s *Supervisor) backoff(n int) time.Duration {
	delay := s.cfg.RestartDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= s.cfg.MaxRestartDelay {
			return s.cfg.MaxRestartDelay
		}
	}
	return delay
}

// Stop asks the helper to exit with SIGTERM and kills its process group if
// it has not exited after StopTimeout. It is a no-op when nothing is running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	done := s.done
	if done == nil || s.stopping {
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	s.stopping = true
	close(s.quit)
	cancel := s.cancelRun
	pid := s.pid
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		return nil
	case <-time.After(2 * s.cfg.StopTimeout):
	}

	s.logger.Warn("sensor helper did not stop, killing process group", "name", s.cfg.Name, "pid", pid)
	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
		}
	}
	<-done
	return nil
}

// Status returns the current helper status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stats describes the helper for the metrics endpoint.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	Samples   uint64        `json:"samples"`
	Discarded uint64        `json:"discarded"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the helper's state and counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Name:      s.cfg.Name,
		Status:    s.status,
		PID:       s.pid,
		Restarts:  s.restarts,
		Samples:   s.samples.Load(),
		Discarded: s.discarded.Load(),
	}
	if s.status == StatusRunning {
		stats.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	return stats
}

// HealthCheck reports an error when the helper has given up restarting.
func (s *Supervisor) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFailed {
		if s.lastErr != nil {
			return fmt.Errorf("%s failed: %w", s.cfg.Name, s.lastErr)
		}
		return fmt.Errorf("%s failed", s.cfg.Name)
	}
	return nil
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
