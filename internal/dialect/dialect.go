// Package dialect defines the common Translator contract every client
// wire format implements, plus a small registry resolving a dialect name
// to its translator.
package dialect

import (
	"fmt"

	"github.com/nextlane/antigw/internal/geminiapi"
)

// ToInternalResult is what toInternal returns: the internal request plus
// the bookkeeping the orchestrator needs for model-fallback and caching.
type ToInternalResult struct {
	Request        geminiapi.InternalRequest
	CanonicalModel string
	IsThinking     bool
	ThinkingBudget int
}

// Translator is the per-dialect request/response conversion contract.
// StreamState is an opaque, translator-owned value carried by the
// orchestrator across a single request's chunks.
type Translator interface {
	// Name identifies the dialect for registry lookup and logging.
	Name() string

	// ToInternal converts a client request body into internal form.
	ToInternal(body []byte) (*ToInternalResult, error)

	// NewStreamState creates the per-request streaming state this
	// translator threads through FromInternalStream/FinishStream.
	NewStreamState(canonicalModel string) any

	// FromInternal converts a complete internal response into the
	// dialect's batch wire response.
	FromInternal(resp *geminiapi.InternalResponse, canonicalModel string) ([]byte, error)

	// FromInternalStream converts one internal response chunk into zero or
	// more SSE wire frames (each complete and ending in a blank line; the
	// Anthropic dialect's frames also carry an "event: ..." line).
	FromInternalStream(chunk *geminiapi.InternalResponse, state any) ([][]byte, error)

	// FinishStream emits the closing wire frames once the upstream stream
	// has ended (state-machine teardown, final [DONE] marker, etc).
	FinishStream(state any) ([][]byte, error)
}

// Registry resolves a dialect name to its Translator.
type Registry struct {
	byName map[string]Translator
}

func NewRegistry(translators ...Translator) *Registry {
	r := &Registry{byName: make(map[string]Translator, len(translators))}
	for _, t := range translators {
		r.byName[t.Name()] = t
	}
	return r
}

func (r *Registry) Resolve(name string) (Translator, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
	return t, nil
}
