package agent

import (
	"context"

	"vramsply/pkg/types"
)

// Process is the supervised inference server. *supervisor.Supervisor
// satisfies it.
type Process interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	ActiveRequests(ctx context.Context) (int, error)
	RestartWithBackoff(ctx context.Context) error
	Close()
}

// ControlPlane is the remote service the agent registers with.
// *platform.Client satisfies it.
type ControlPlane interface {
	Register(ctx context.Context, req types.RegisterRequest) (types.RegisterResponse, error)
	Heartbeat(ctx context.Context) error
	Deregister(ctx context.Context, id string) error
	PresenceSink
}

// PresenceSink receives presence payloads.
type PresenceSink interface {
	PublishPresence(ctx context.Context, p types.PresencePayload) error
}

// Tokens is the shared credential cell. *auth.TokenSource satisfies it.
type Tokens interface {
	Token() string
	Valid(ctx context.Context) (string, error)
}

// Model is the resolved model the agent serves.
type Model struct {
	Path string
	// Name is the public model name sent on registration.
	Name string
	// SHA256 is empty when verification was skipped.
	SHA256 string
}
