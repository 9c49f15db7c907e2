package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"vramsply/internal/models"
	"vramsply/internal/verify"
)

// ModelSpec selects and verifies the model to serve.
type ModelSpec struct {
	Dir string
	// Arg is a path or a name inside Dir; empty picks the first local model.
	Arg string
	// Name overrides the name derived from the file name.
	Name       string
	HFRepo     string
	SkipVerify bool
	Verifier   *verify.Verifier
}

// ResolveModel locates the model file, derives its public name and, unless
// skipped, verifies it against its HuggingFace repository.
func ResolveModel(ctx context.Context, spec ModelSpec, log zerolog.Logger) (Model, error) {
	path, others, err := models.Resolve(spec.Dir, spec.Arg)
	if err != nil {
		return Model{}, err
	}
	if others > 0 {
		log.Info().Str("model", path).Int("others", others).Msg("multiple models found, using the first; pass --model to choose")
	}
	m := Model{Path: path, Name: spec.Name}
	if m.Name == "" {
		m.Name = models.NormalizeName(path)
	}

	switch {
	case spec.SkipVerify:
		log.Warn().Str("model", path).Msg("model verification skipped")
	case spec.HFRepo == "" || spec.Verifier == nil:
		log.Warn().Str("model", path).Msg("no HuggingFace repository configured, model is registered unverified")
	default:
		sum, err := spec.Verifier.Verify(ctx, path, spec.HFRepo, false)
		if err != nil {
			return Model{}, fmt.Errorf("verify model %s: %w", path, err)
		}
		m.SHA256 = sum
		log.Info().Str("model", path).Str("sha256", sum).Msg("model verified")
	}
	return m, nil
}
