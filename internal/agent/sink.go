package agent

import (
	"context"

	"github.com/rs/zerolog"

	"vramsply/internal/identity"
	"vramsply/internal/presence"
	"vramsply/pkg/types"
)

// presenceSink sends snapshots to the control plane and, when configured,
// mirrors them on the bus. Mirror failures never fail the publish.
type presenceSink struct {
	ident  identity.Identity
	cp     PresenceSink
	mirror PresenceSink
	log    zerolog.Logger
}

func (s *presenceSink) PublishPresence(ctx context.Context, snap presence.Snapshot) error {
	p := payload(s.ident, snap)
	err := s.cp.PublishPresence(ctx, p)
	if s.mirror != nil {
		if merr := s.mirror.PublishPresence(ctx, p); merr != nil {
			s.log.Debug().Err(merr).Msg("presence mirror publish failed")
		}
	}
	return err
}

func payload(id identity.Identity, s presence.Snapshot) types.PresencePayload {
	return types.PresencePayload{
		AgentUID:           id.AgentUID,
		DeviceName:         id.DeviceName,
		Platform:           id.Platform,
		Arch:               id.Arch,
		AgentVersion:       id.Version,
		Status:             string(s.Status),
		CurrentModel:       optional(s.CurrentModel),
		LoadingProgressPct: s.LoadingProgressPct,
		ActiveRequests:     s.ActiveRequests,
		ErrorCode:          optional(s.ErrorCode),
		ErrorMessage:       optional(s.ErrorMessage),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
