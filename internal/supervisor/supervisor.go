// Package supervisor owns a single llama-server subprocess: it starts it,
// probes its health and slots, restarts it with backoff and stops it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config describes the llama-server invocation and the supervisor timings.
// Zero timings are replaced by the defaults below.
type Config struct {
	BinaryPath    string
	ModelPath     string
	Host          string
	Port          int
	GPULayers     int
	ContextLength int

	// Output receives the subprocess stdout and stderr. Nil discards them;
	// a tail of stderr is always kept for diagnostics.
	Output io.Writer

	StartupTimeout time.Duration
	PollInterval   time.Duration
	StopGrace      time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SlotsTimeout   time.Duration
	HealthTimeout  time.Duration
}

const (
	DefaultStartupTimeout = 60 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultStopGrace      = 5 * time.Second
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultSlotsTimeout   = 3 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	setDur := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setDur(&c.StartupTimeout, DefaultStartupTimeout)
	setDur(&c.PollInterval, DefaultPollInterval)
	setDur(&c.StopGrace, DefaultStopGrace)
	setDur(&c.InitialBackoff, DefaultInitialBackoff)
	setDur(&c.MaxBackoff, DefaultMaxBackoff)
	setDur(&c.SlotsTimeout, DefaultSlotsTimeout)
	setDur(&c.HealthTimeout, DefaultHealthTimeout)
}

// Supervisor holds at most one live llama-server process.
type Supervisor struct {
	cfg        Config
	log        zerolog.Logger
	httpClient *http.Client
	publisher  EventPublisher

	mu      sync.Mutex
	proc    *process
	backoff time.Duration
}

// process is a spawned llama-server. A reaper goroutine waits on it and
// closes done once it has exited, so an exited process is always reaped.
type process struct {
	cmd     *exec.Cmd
	pid     int
	done    chan struct{}
	waitErr error // valid after done is closed
	stderr  *tailBuffer
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// New constructs a Supervisor. No process is started.
func New(cfg Config, log zerolog.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg: cfg,
		log: log.With().Str("component", "supervisor").Logger(),
		// Timeout=0: every call carries its own context deadline.
		httpClient: &http.Client{Timeout: 0},
		publisher:  noopPublisher{},
		backoff:    cfg.InitialBackoff,
	}
}

// SetPublisher installs an EventPublisher for emitting lifecycle events.
func (s *Supervisor) SetPublisher(p EventPublisher) {
	if p == nil {
		s.publisher = noopPublisher{}
		return
	}
	s.publisher = p
}

// BaseURL is the address llama-server listens on.
func (s *Supervisor) BaseURL() string {
	return "http://" + s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
}

// Backoff returns the delay the next RestartWithBackoff will sleep for.
func (s *Supervisor) Backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

func (s *Supervisor) args() []string {
	return []string{
		"-m", s.cfg.ModelPath,
		"--host", s.cfg.Host,
		"--port", strconv.Itoa(s.cfg.Port),
		"-ngl", strconv.Itoa(s.cfg.GPULayers),
		"--ctx-size", strconv.Itoa(s.cfg.ContextLength),
	}
}

// Start launches llama-server and waits until /health succeeds.
//
// A launch failure or an exit before readiness returns a SpawnFailed error
// and leaves no process held. If the startup timeout elapses first, a
// HealthTimeout error is returned and the process keeps running; the caller
// decides whether to Stop it. Only a successful start resets the backoff.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start llama-server: %w", err)
	}
	s.mu.Lock()
	if s.proc != nil && !s.proc.exited() {
		pid := s.proc.pid
		s.mu.Unlock()
		return alreadyRunningError{pid: pid}
	}
	s.proc = nil

	tail := &tailBuffer{max: 4096}
	cmd := exec.Command(s.cfg.BinaryPath, s.args()...)
	if s.cfg.Output != nil {
		cmd.Stdout = s.cfg.Output
		cmd.Stderr = io.MultiWriter(tail, s.cfg.Output)
	} else {
		cmd.Stderr = tail
	}
	// Bound how long Wait blocks on output copying after the process exits.
	cmd.WaitDelay = s.cfg.StopGrace
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return spawnFailedError{bin: s.cfg.BinaryPath, err: err}
	}
	p := &process{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{}), stderr: tail}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	s.proc = p
	s.mu.Unlock()

	base := s.BaseURL()
	s.log.Info().Int("pid", p.pid).Str("model", s.cfg.ModelPath).Str("url", base).Msg("llama-server started")
	s.publisher.Publish(Event{Name: "spawn_start", Model: s.cfg.ModelPath, Fields: map[string]any{"pid": p.pid, "port": s.cfg.Port}})

	// The startup ceiling also bounds each in-flight health probe.
	startCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()
	for {
		if s.HealthCheck(startCtx) {
			s.mu.Lock()
			s.backoff = s.cfg.InitialBackoff
			s.mu.Unlock()
			s.log.Info().Int("pid", p.pid).Str("url", base).Msg("llama-server is healthy")
			s.publisher.Publish(Event{Name: "spawn_ready", Model: s.cfg.ModelPath, Fields: map[string]any{"pid": p.pid, "url": base}})
			return nil
		}
		select {
		case <-p.done:
			s.mu.Lock()
			if s.proc == p {
				s.proc = nil
			}
			s.mu.Unlock()
			err := p.waitErr
			if err == nil {
				err = errors.New("exited before becoming healthy")
			}
			if t := p.stderr.String(); t != "" {
				err = fmt.Errorf("%w; stderr tail: %s", err, t)
			}
			s.log.Error().Int("pid", p.pid).Err(err).Msg("llama-server exited early")
			s.publisher.Publish(Event{Name: "spawn_exit", Model: s.cfg.ModelPath, Fields: map[string]any{"pid": p.pid, "before_ready": true}})
			return spawnFailedError{bin: s.cfg.BinaryPath, err: err}
		case <-startCtx.Done():
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("wait for llama-server health: %w", err)
			}
			s.log.Error().Int("pid", p.pid).Dur("timeout", s.cfg.StartupTimeout).Msg("llama-server health timeout")
			s.publisher.Publish(Event{Name: "spawn_timeout", Model: s.cfg.ModelPath, Fields: map[string]any{"pid": p.pid}})
			return healthTimeoutError{url: base, timeout: s.cfg.StartupTimeout.String()}
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// Stop terminates the held process: a graceful signal first, then a kill
// once the grace period elapses. The handle is always cleared. Calling Stop
// with no process held is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	defer func() {
		s.mu.Lock()
		if s.proc == p {
			s.proc = nil
		}
		s.mu.Unlock()
	}()
	if p.exited() {
		return nil
	}

	s.log.Info().Int("pid", p.pid).Msg("stopping llama-server")
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn().Int("pid", p.pid).Err(err).Msg("terminate signal failed")
	}
	var killErr error
	select {
	case <-p.done:
		s.log.Info().Int("pid", p.pid).Msg("llama-server exited")
	case <-time.After(s.cfg.StopGrace):
		s.log.Warn().Int("pid", p.pid).Dur("grace", s.cfg.StopGrace).Msg("llama-server did not exit in time, killing")
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			killErr = fmt.Errorf("kill llama-server pid %d: %w", p.pid, err)
		}
		s.publisher.Publish(Event{Name: "spawn_kill", Model: s.cfg.ModelPath, Fields: map[string]any{"pid": p.pid}})
		<-p.done
	}
	s.publisher.Publish(Event{Name: "spawn_stop", Model: s.cfg.ModelPath, Fields: map[string]any{"pid": p.pid}})
	return killErr
}

// IsRunning reports whether a started process is still alive. It never blocks.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !s.proc.exited()
}

// HealthCheck probes /health. Any failure, including a timeout, is
// reported as unhealthy.
func (s *Supervisor) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// RestartWithBackoff sleeps for the current backoff, doubles it up to the
// ceiling, then stops and starts the process. A start that times out on
// health also stops the unhealthy process so the next attempt begins clean.
func (s *Supervisor) RestartWithBackoff(ctx context.Context) error {
	s.mu.Lock()
	wait := s.backoff
	s.backoff *= 2
	if s.backoff > s.cfg.MaxBackoff {
		s.backoff = s.cfg.MaxBackoff
	}
	s.mu.Unlock()

	s.log.Warn().Dur("backoff", wait).Msg("restarting llama-server")
	s.publisher.Publish(Event{Name: "restart", Model: s.cfg.ModelPath, Fields: map[string]any{"backoff": wait.String()}})
	t := time.NewTimer(wait)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return fmt.Errorf("restart llama-server: %w", ctx.Err())
	}

	if err := s.Stop(); err != nil {
		return fmt.Errorf("restart llama-server: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		if IsHealthTimeout(err) {
			if stopErr := s.Stop(); stopErr != nil {
				s.log.Warn().Err(stopErr).Msg("stop after health timeout failed")
			}
		}
		return fmt.Errorf("restart llama-server: %w", err)
	}
	return nil
}

// Close is the release half of the supervisor's scoped lifetime. It kills a
// still-live process without waiting and never fails; the reaper goroutine
// collects the exit status.
func (s *Supervisor) Close() {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.mu.Unlock()
	if p == nil || p.exited() {
		return
	}
	s.log.Warn().Int("pid", p.pid).Msg("killing llama-server on close")
	_ = p.cmd.Process.Kill()
	s.publisher.Publish(Event{Name: "spawn_kill", Model: s.cfg.ModelPath, Fields: map[string]any{"pid": p.pid}})
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
