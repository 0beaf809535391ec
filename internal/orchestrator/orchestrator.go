// Package orchestrator drives a single client request end to end: translate,
// pick an account, call upstream, retry across accounts and fallback models
// on recoverable failure, translate the response back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nextlane/antigw/internal/accountpool"
	"github.com/nextlane/antigw/internal/aierrors"
	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/dialect"
	"github.com/nextlane/antigw/internal/dialect/shared"
	"github.com/nextlane/antigw/internal/geminiapi"
	"github.com/nextlane/antigw/internal/sigcache"
	"github.com/nextlane/antigw/internal/upstream"
)

// StreamWriter receives wire-ready SSE frames as they're produced. The HTTP
// layer implements this over a flushing ResponseWriter.
type StreamWriter interface {
	WriteFrame(frame []byte) error
}

// Orchestrator wires together a dialect registry, the account pool, and the
// upstream client to serve one request end to end.
type Orchestrator struct {
	Registry           *dialect.Registry
	Pool               *accountpool.Pool
	Client             *upstream.Client
	Cache              *sigcache.Cache
	Log                zerolog.Logger
	SwitchPreviewModel bool
	DefaultProjectID   string
}

// attemptModels returns the canonical model followed by its fallback chain
// when switching is enabled, else just the canonical model alone.
func (o *Orchestrator) attemptModels(canonical string) []string {
	if !o.SwitchPreviewModel {
		return []string{canonical}
	}
	return append([]string{canonical}, aimodels.Fallbacks(canonical)...)
}

// resolveProjectID falls back to the operator-configured default project
// when the selected account has none on record, logging a warning (with or
// without a configured default) rather than silently defaulting.
func (o *Orchestrator) resolveProjectID(sel *accountpool.Selection) string {
	if sel.ProjectID != "" {
		return sel.ProjectID
	}
	if o.DefaultProjectID != "" {
		o.Log.Warn().Str("account", sel.AccountID).Msg("account has no projectId on record, using configured default")
	} else {
		o.Log.Warn().Str("account", sel.AccountID).Msg("account has no projectId on record and no default is configured")
	}
	return o.DefaultProjectID
}

// Handle serves a single non-streaming request.
func (o *Orchestrator) Handle(ctx context.Context, dialectName string, body []byte) ([]byte, error) {
	tr, err := o.Registry.Resolve(dialectName)
	if err != nil {
		return nil, err
	}
	result, err := tr.ToInternal(body)
	if err != nil {
		return nil, fmt.Errorf("translate request: %w", err)
	}

	family := string(aimodels.FamilyOf(result.CanonicalModel))

	var lastErr error
	for _, model := range o.attemptModels(result.CanonicalModel) {
		resp, accountID, err := o.tryModelBatch(ctx, family, model, result.Request, tr)
		if err == nil {
			if len(resp.Candidates) > 0 {
				shared.CacheObservedSignatures(resp.Candidates[0].Content, o.Cache, result.Request.SessionID)
			}
			out, ferr := tr.FromInternal(resp, model)
			if ferr != nil {
				return nil, ferr
			}
			_ = accountID
			return out, nil
		}
		lastErr = err
		if !isQuotaExhausted(err) {
			return nil, lastErr
		}
		o.Log.Info().Str("model", model).Msg("quota exhausted, trying next fallback model")
	}
	if lastErr == nil {
		lastErr = errors.New("no account available for any candidate model")
	}
	return nil, lastErr
}

// tryModelBatch runs the account-retry loop for one candidate model,
// capped at 2x the known account count.
func (o *Orchestrator) tryModelBatch(ctx context.Context, family, model string, req geminiapi.InternalRequest, tr dialect.Translator) (*geminiapi.InternalResponse, string, error) {
	maxAttempts := max(2*o.Pool.Count(), 1)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		sel, err := o.Pool.GetValidAccessToken(ctx, family, model)
		if err != nil {
			return nil, "", err
		}
		if sel == nil {
			if lastErr != nil {
				return nil, "", lastErr
			}
			return nil, "", fmt.Errorf("no account available for model %s", model)
		}

		projectID := o.resolveProjectID(sel)
		resp, err := o.Client.Generate(ctx, projectID, aimodels.BaseModelID(model), sel.AccessToken, family, req)
		if err == nil {
			o.Pool.MarkSuccess(sel.AccountID, model)
			return resp, sel.AccountID, nil
		}

		lastErr = err
		var upErr *aierrors.UpstreamError
		if !errors.As(err, &upErr) {
			return nil, "", err
		}
		retryMs, hasHint := aierrors.ParseRetryHintMillis(upErr.Body)
		switch upErr.Kind {
		case aierrors.KindRateLimit:
			hint := int64(-1)
			if hasHint {
				hint = retryMs
			}
			o.Pool.MarkRateLimited(sel.AccountID, hint, model)
			continue
		case aierrors.KindQuotaExhausted:
			o.Pool.MarkQuotaExhausted(sel.AccountID, retryMs, model)
			return nil, "", &quotaExhaustedError{model: model, err: err}
		case aierrors.KindAuth:
			o.Pool.MarkDisabled(sel.AccountID, err.Error())
			continue
		default:
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

type quotaExhaustedError struct {
	model string
	err   error
}

func (e *quotaExhaustedError) Error() string { return fmt.Sprintf("model %s quota exhausted: %v", e.model, e.err) }
func (e *quotaExhaustedError) Unwrap() error { return e.err }

func isQuotaExhausted(err error) bool {
	var qe *quotaExhaustedError
	return errors.As(err, &qe)
}

// HandleStream serves a single streaming request, writing translated SSE
// frames to w as upstream chunks arrive. Once the first upstream chunk has
// been written to w, the request can no longer rotate accounts or fall back
// to another model: partial output has already reached the client, so a
// mid-stream failure is surfaced as an error rather than silently retried.
func (o *Orchestrator) HandleStream(ctx context.Context, dialectName string, body []byte, w StreamWriter) error {
	tr, err := o.Registry.Resolve(dialectName)
	if err != nil {
		return err
	}
	result, err := tr.ToInternal(body)
	if err != nil {
		return fmt.Errorf("translate request: %w", err)
	}
	family := string(aimodels.FamilyOf(result.CanonicalModel))

	var lastErr error
	for _, model := range o.attemptModels(result.CanonicalModel) {
		wrote, err := o.tryModelStream(ctx, family, model, result.Request, tr, w)
		if err == nil {
			return nil
		}
		if wrote {
			err = &aierrors.NonFallbackError{Err: err}
		} else {
			err = &aierrors.PreDeltaError{Err: err}
		}
		lastErr = err
		if aierrors.IsNonFallbackError(err) {
			return lastErr // partial output already sent: never retry another model
		}
		if !aierrors.IsPreDeltaError(err) || !isQuotaExhausted(err) {
			return lastErr
		}
		o.Log.Info().Str("model", model).Msg("quota exhausted before first byte, trying next fallback model")
	}
	if lastErr == nil {
		lastErr = errors.New("no account available for any candidate model")
	}
	return lastErr
}

// tryModelStream runs the account-retry loop for one candidate model. The
// returned bool reports whether any frame was already written to w, which
// governs whether the caller may still fall back to another model.
func (o *Orchestrator) tryModelStream(ctx context.Context, family, model string, req geminiapi.InternalRequest, tr dialect.Translator, w StreamWriter) (bool, error) {
	maxAttempts := max(2*o.Pool.Count(), 1)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		sel, err := o.Pool.GetValidAccessToken(ctx, family, model)
		if err != nil {
			return false, err
		}
		if sel == nil {
			if lastErr != nil {
				return false, lastErr
			}
			return false, fmt.Errorf("no account available for model %s", model)
		}

		projectID := o.resolveProjectID(sel)
		stream, err := o.Client.StreamGenerate(ctx, projectID, aimodels.BaseModelID(model), sel.AccessToken, family, req)
		if err != nil {
			lastErr = err
			var upErr *aierrors.UpstreamError
			if !errors.As(err, &upErr) {
				return false, err
			}
			retryMs, hasHint := aierrors.ParseRetryHintMillis(upErr.Body)
			switch upErr.Kind {
			case aierrors.KindRateLimit:
				hint := int64(-1)
				if hasHint {
					hint = retryMs
				}
				o.Pool.MarkRateLimited(sel.AccountID, hint, model)
				continue
			case aierrors.KindQuotaExhausted:
				o.Pool.MarkQuotaExhausted(sel.AccountID, retryMs, model)
				return false, &quotaExhaustedError{model: model, err: err}
			case aierrors.KindAuth:
				o.Pool.MarkDisabled(sel.AccountID, err.Error())
				continue
			default:
				return false, err
			}
		}

		state := tr.NewStreamState(model)
		wrote := false
		var accumulated geminiapi.Content
		for {
			chunk, more := stream.Next()
			if chunk != nil {
				if len(chunk.Candidates) > 0 {
					accumulated.Parts = append(accumulated.Parts, chunk.Candidates[0].Content.Parts...)
				}
				frames, ferr := tr.FromInternalStream(chunk, state)
				if ferr != nil {
					stream.Close()
					return wrote, ferr
				}
				for _, f := range frames {
					if werr := w.WriteFrame(f); werr != nil {
						stream.Close()
						return true, werr
					}
					wrote = true
				}
			}
			if !more {
				break
			}
		}
		streamErr := stream.Err()
		stream.Close()
		if streamErr != nil {
			return wrote, streamErr
		}

		shared.CacheObservedSignatures(accumulated, o.Cache, req.SessionID)
		finalFrames, ferr := tr.FinishStream(state)
		if ferr != nil {
			return wrote, ferr
		}
		for _, f := range finalFrames {
			if werr := w.WriteFrame(f); werr != nil {
				return true, werr
			}
			wrote = true
		}
		o.Pool.MarkSuccess(sel.AccountID, model)
		return wrote, nil
	}
	return false, lastErr
}
