// Package agent runs the node agent: it starts the inference server,
// registers with the control plane, keeps presence and heartbeats current,
// and tears everything down in order on shutdown.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vramsply/internal/config"
	"vramsply/internal/httpapi"
	"vramsply/internal/identity"
	"vramsply/internal/metrics"
	"vramsply/internal/platform"
	"vramsply/internal/presence"
	"vramsply/internal/supervisor"
	"vramsply/pkg/types"
)

const (
	DefaultPublishInterval   = 15 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMonitorInterval   = 15 * time.Second
	DefaultShutdownWait      = 5 * time.Second
)

// Presence error codes reported by the agent.
const (
	CodeLlamaStartFailed        = "llama_start_failed"
	CodeRegisterRequestFailed   = "provider_register_request_failed"
	CodeRegisterFailed          = "provider_register_failed"
	CodeRegisterResponseInvalid = "provider_register_response_invalid"
	CodeLlamaStopped            = "llama_stopped"
	CodeLlamaRestartFailed      = "llama_restart_failed"
)

// Options wires the agent to its collaborators. Nil factories fall back to
// the real implementations.
type Options struct {
	Config config.Config
	Log    zerolog.Logger

	Authenticate func(ctx context.Context) (Tokens, error)
	Identity     func() (identity.Identity, error)
	ResolveModel func(ctx context.Context) (Model, error)

	NewControlPlane func(Tokens) ControlPlane
	NewProcess      func(Model) Process
	// Mirror optionally receives a copy of every presence payload.
	Mirror PresenceSink
	// ProcessOutput receives llama-server stdout and stderr.
	ProcessOutput io.Writer

	// OnReady is called once the agent is registered and Ready.
	OnReady func(ReadyInfo)

	PublishInterval   time.Duration
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
	ShutdownWait      time.Duration
}

// ReadyInfo describes a registered agent.
type ReadyInfo struct {
	Model      string
	Endpoint   string
	InstanceID string
	StatusAddr string
}

// Agent is one run of the node agent. It is not reusable.
type Agent struct {
	opts Options
	cfg  config.Config
	log  zerolog.Logger

	tokens  Tokens
	ident   identity.Identity
	model   Model
	cp      ControlPlane
	machine *presence.Machine
	started time.Time

	// procMu serialises every action on the process and the presence
	// updates that follow it, so shutdown cannot race the monitor.
	procMu sync.Mutex
	proc   Process
	// publishMu serialises the periodic publish with the final one.
	publishMu sync.Mutex

	// mu guards instanceID and the proc reference for readers outside
	// the loops.
	mu         sync.Mutex
	instanceID string

	cancelLoops context.CancelFunc
	wg          sync.WaitGroup
	statusSrv   *http.Server
	statusAddr  string
}

// New returns an Agent; nothing runs until Run.
func New(opts Options) *Agent {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = DefaultPublishInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.ShutdownWait <= 0 {
		opts.ShutdownWait = DefaultShutdownWait
	}
	a := &Agent{opts: opts, cfg: opts.Config, log: opts.Log.With().Str("component", "agent").Logger()}
	if a.opts.NewControlPlane == nil {
		a.opts.NewControlPlane = func(t Tokens) ControlPlane {
			return platform.New(a.cfg.PlatformURL, t, opts.Log.With().Str("component", "platform").Logger())
		}
	}
	if a.opts.NewProcess == nil {
		a.opts.NewProcess = a.newSupervisor
	}
	return a
}

func (a *Agent) newSupervisor(m Model) Process {
	sup := supervisor.New(supervisor.Config{
		BinaryPath:    a.cfg.LlamaServerPath,
		ModelPath:     m.Path,
		Port:          a.cfg.Port,
		GPULayers:     a.cfg.GPULayers,
		ContextLength: a.cfg.ContextLength,
		Output:        a.opts.ProcessOutput,
	}, a.opts.Log)
	sup.SetPublisher(supervisor.PublisherFunc(func(e supervisor.Event) {
		metrics.ObserveSupervisorEvent(e.Name)
	}))
	return sup
}

// Run performs the startup sequence, blocks until ctx is cancelled, then
// shuts down. Startup failures are reported through presence and returned.
func (a *Agent) Run(ctx context.Context) error {
	a.started = time.Now()

	tokens, err := a.opts.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	a.tokens = tokens
	if a.ident, err = a.opts.Identity(); err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	if a.model, err = a.opts.ResolveModel(ctx); err != nil {
		return err
	}
	a.log.Info().Str("model", a.model.Path).Str("name", a.model.Name).Msg("serving model")

	a.cp = a.opts.NewControlPlane(tokens)
	// Presence delivery outlives ctx so the final snapshot still goes out.
	pubCtx := context.WithoutCancel(ctx)
	a.machine = presence.New(a.model.Name, &presenceSink{ident: a.ident, cp: a.cp, mirror: a.opts.Mirror, log: a.log}, a.opts.Log.With().Str("component", "presence").Logger())
	a.machine.Publish(pubCtx)

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancelLoops = cancel
	a.startStatusServer()
	a.spawn(func() { a.every(loopCtx, a.opts.PublishInterval, a.publishTick) })

	if err := a.machine.Transition(pubCtx, presence.StatusLoadingModel); err != nil {
		return a.abort(ctx, CodeLlamaStartFailed, err)
	}
	proc := a.opts.NewProcess(a.model)
	a.procMu.Lock()
	a.mu.Lock()
	a.proc = proc
	a.mu.Unlock()
	a.procMu.Unlock()
	defer proc.Close()
	if err := proc.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return a.shutdown(pubCtx)
		}
		return a.abort(ctx, CodeLlamaStartFailed, fmt.Errorf("start llama-server: %w", err))
	}
	a.log.Info().Int("port", a.cfg.Port).Msg("llama-server is healthy")

	reg, err := a.cp.Register(ctx, types.RegisterRequest{
		EndpointURL:           a.cfg.PublicURL,
		Model:                 a.model.Name,
		MaxConcurrent:         a.cfg.MaxConcurrent,
		ContextLengthOffered:  a.cfg.ContextLength,
		InputPricePerMillion:  a.cfg.InputPrice,
		OutputPricePerMillion: a.cfg.OutputPrice,
		ModelSHA256:           a.model.SHA256,
	})
	if err != nil {
		if ctx.Err() != nil {
			return a.shutdown(pubCtx)
		}
		return a.abort(ctx, registerErrorCode(err), fmt.Errorf("register provider: %w", err))
	}
	a.mu.Lock()
	a.instanceID = reg.ID
	a.mu.Unlock()
	a.log.Info().Str("id", reg.ID).Str("status", reg.Status).Msg("registered with platform")

	if err := a.machine.Transition(pubCtx, presence.StatusReady); err != nil {
		return a.abort(ctx, CodeLlamaStartFailed, err)
	}
	a.spawn(func() { a.every(loopCtx, a.opts.HeartbeatInterval, a.heartbeatTick) })
	a.spawn(func() { a.every(loopCtx, a.opts.MonitorInterval, a.monitorTick) })
	if a.opts.OnReady != nil {
		a.opts.OnReady(ReadyInfo{Model: a.model.Name, Endpoint: a.cfg.PublicURL, InstanceID: reg.ID, StatusAddr: a.statusAddr})
	}

	<-ctx.Done()
	a.log.Info().Msg("shutting down")
	return a.shutdown(pubCtx)
}

// registerErrorCode maps a registration failure to its presence code.
func registerErrorCode(err error) string {
	switch {
	case platform.IsHTTPStatus(err):
		return CodeRegisterFailed
	case platform.IsDecode(err):
		return CodeRegisterResponseInvalid
	default:
		return CodeRegisterRequestFailed
	}
}

// abort reports a startup failure, stops the loops and returns err.
func (a *Agent) abort(ctx context.Context, code string, err error) error {
	a.log.Error().Err(err).Str("code", code).Msg("startup failed")
	a.machine.ReportError(context.WithoutCancel(ctx), code, err.Error())
	a.cancelLoops()
	a.waitLoops()
	a.stopStatusServer()
	return err
}

// shutdown runs every step even when earlier ones fail.
func (a *Agent) shutdown(ctx context.Context) error {
	a.cancelLoops()

	a.procMu.Lock()
	if a.proc != nil {
		if err := a.proc.Stop(); err != nil {
			a.log.Warn().Err(err).Msg("stop llama-server")
		}
	}
	a.publishMu.Lock()
	if err := a.machine.Transition(ctx, presence.StatusUnavailable); err != nil {
		a.log.Warn().Err(err).Msg("final presence transition")
	}
	a.publishMu.Unlock()
	a.procMu.Unlock()

	if id := a.InstanceID(); id != "" {
		if err := a.cp.Deregister(ctx, id); err != nil {
			a.log.Warn().Err(err).Str("id", id).Msg("deregister failed")
		} else {
			a.log.Info().Str("id", id).Msg("deregistered from platform")
		}
	}

	a.waitLoops()
	a.stopStatusServer()
	return nil
}

func (a *Agent) spawn(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// waitLoops waits for the loops, giving up after ShutdownWait.
func (a *Agent) waitLoops() {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.opts.ShutdownWait):
		a.log.Warn().Dur("wait", a.opts.ShutdownWait).Msg("background loops did not stop in time")
	}
}

// every runs fn each interval until ctx is cancelled.
func (a *Agent) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}
}

func (a *Agent) publishTick(ctx context.Context) {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	a.machine.Publish(context.WithoutCancel(ctx))
}

func (a *Agent) heartbeatTick(ctx context.Context) {
	// An in-flight ping finishes even if shutdown starts.
	ctx = context.WithoutCancel(ctx)
	if _, err := a.tokens.Valid(ctx); err != nil {
		a.log.Warn().Err(err).Msg("refresh credentials failed")
	}
	err := a.cp.Heartbeat(ctx)
	metrics.ObserveHeartbeat(err == nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	a.log.Trace().Msg("heartbeat sent")
}

func (a *Agent) monitorTick(ctx context.Context) {
	a.procMu.Lock()
	defer a.procMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	pubCtx := context.WithoutCancel(ctx)

	if !a.proc.IsRunning() {
		a.log.Warn().Msg("llama-server has stopped, attempting restart")
		a.machine.ReportDegraded(pubCtx, CodeLlamaStopped, "llama-server process stopped unexpectedly")
		metrics.SetActiveRequests(0)
		if err := a.proc.RestartWithBackoff(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Error().Err(err).Msg("restart llama-server failed")
			a.machine.ReportError(pubCtx, CodeLlamaRestartFailed, err.Error())
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := a.machine.Transition(pubCtx, presence.StatusReady); err != nil {
			a.log.Error().Err(err).Msg("presence transition after restart")
		}
		return
	}

	n, err := a.proc.ActiveRequests(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("inspect active request count failed")
		return
	}
	metrics.SetActiveRequests(n)
	a.machine.UpdateActiveRequests(pubCtx, n)
}

func (a *Agent) startStatusServer() {
	addr := a.cfg.StatusAddr
	if addr == "" {
		return
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		a.log.Warn().Err(err).Str("addr", addr).Msg("status server disabled")
		return
	}
	a.statusAddr = ln.Addr().String()
	h := httpapi.NewMux(a, httpapi.Options{CORS: a.cfg.CORS, Log: a.opts.Log.With().Str("component", "httpapi").Logger()})
	a.statusSrv = httpapi.NewServer(a.statusAddr, h)
	srv := a.statusSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("status server stopped")
		}
	}()
	a.log.Info().Str("addr", a.statusAddr).Msg("status server listening")
}

func (a *Agent) stopStatusServer() {
	if a.statusSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownWait)
	defer cancel()
	if err := a.statusSrv.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("status server shutdown")
	}
}

// InstanceID is the provider id assigned on registration, or "".
func (a *Agent) InstanceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instanceID
}

// Presence returns the current snapshot. It is zero before Run builds the
// state machine.
func (a *Agent) Presence() presence.Snapshot {
	if a.machine == nil {
		return presence.Snapshot{}
	}
	return a.machine.Snapshot()
}

// Ready reports whether the agent is accepting work.
func (a *Agent) Ready() bool {
	s := a.Presence().Status
	return s == presence.StatusReady || s == presence.StatusServing
}

// Status implements httpapi.Service.
func (a *Agent) Status() types.StatusResponse {
	resp := types.StatusResponse{
		Presence:      payload(a.ident, a.Presence()),
		InstanceID:    a.InstanceID(),
		EndpointURL:   a.cfg.PublicURL,
		ModelPath:     a.model.Path,
		ModelSHA256:   a.model.SHA256,
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
	}
	// Read without procMu: a restart may hold it for a while and IsRunning
	// never blocks.
	a.mu.Lock()
	p := a.proc
	a.mu.Unlock()
	if p != nil {
		resp.LlamaRunning = p.IsRunning()
	}
	return resp
}
