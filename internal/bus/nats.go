// Package bus mirrors presence payloads onto a NATS subject so local
// tooling can follow an agent without polling the control plane.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"vramsply/pkg/types"
)

// SubjectPrefix is prepended to the agent uid to form the publish subject.
const SubjectPrefix = "vramsply.presence."

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Mirror publishes presence payloads on vramsply.presence.<agent_uid>.
type Mirror struct {
	nc  conn
	log zerolog.Logger
}

// Connect dials url and reconnects forever in the background.
func Connect(url, name string, log zerolog.Logger) (*Mirror, error) {
	log = log.With().Str("component", "bus").Logger()
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &Mirror{nc: nc, log: log}, nil
}

// Subject returns the subject presence for agentUID is published on.
func Subject(agentUID string) string { return SubjectPrefix + agentUID }

// PublishPresence publishes p as JSON. The NATS client buffers the message,
// so ctx is only checked before publishing.
func (m *Mirror) PublishPresence(ctx context.Context, p types.PresencePayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	subj := Subject(p.AgentUID)
	if err := m.nc.Publish(subj, b); err != nil {
		return fmt.Errorf("nats publish %s: %w", subj, err)
	}
	return nil
}

// Close drops the connection. Safe on a nil Mirror.
func (m *Mirror) Close() {
	if m == nil || m.nc == nil {
		return
	}
	m.nc.Close()
}
