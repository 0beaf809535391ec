// Package aimodels is the static model catalog: canonical ids, legacy-name
// routing, alias resolution, fallback chains, and thinking-budget bounds.
package aimodels

import "strings"

// Family identifies which upstream wire family a model belongs to.
type Family string

const (
	FamilyClaude Family = "claude"
	FamilyGemini Family = "gemini"
)

// Descriptor is the immutable static description of one catalog model.
type Descriptor struct {
	ID              string
	Name            string
	BaseModelID     string // upstream model id sent in the envelope
	Family          Family
	ContextWindow   int
	MaxOutputTokens int
	Streaming       bool
	Thinking        bool
	ThinkingMinBudget int
	ThinkingMaxBudget int
	ThinkingDefault   int
	// PricingHint is a purely informational relative-cost tier; it is not
	// reported by /v1/models and never consulted by routing or fallback logic.
	PricingHint string
	// Fallbacks lists preview/alternate ids tried, in order, when ID is
	// quota-exhausted.
	Fallbacks []string
}

// catalog is the built-in static table. A slice, not a map, keeps iteration
// order for /v1/models deterministic.
var catalog = []Descriptor{
	{
		ID:              "claude-sonnet-4-5",
		Name:            "Claude Sonnet 4.5",
		BaseModelID:     "claude-sonnet-4-5",
		Family:          FamilyClaude,
		ContextWindow:   200_000,
		MaxOutputTokens: 64_000,
		Streaming:       true,
		Thinking:        true,
		ThinkingMinBudget: 1024,
		ThinkingMaxBudget: 32_000,
		ThinkingDefault:   8192,
		PricingHint:     "medium",
		Fallbacks:       []string{"claude-sonnet-4-5-preview"},
	},
	{
		ID:              "claude-sonnet-4-5-preview",
		Name:            "Claude Sonnet 4.5 (preview)",
		BaseModelID:     "claude-sonnet-4-5-preview",
		Family:          FamilyClaude,
		ContextWindow:   200_000,
		MaxOutputTokens: 64_000,
		Streaming:       true,
		Thinking:        true,
		ThinkingMinBudget: 1024,
		ThinkingMaxBudget: 32_000,
		ThinkingDefault:   8192,
		PricingHint:     "medium",
	},
	{
		ID:              "claude-opus-4-1",
		Name:            "Claude Opus 4.1",
		BaseModelID:     "claude-opus-4-1",
		Family:          FamilyClaude,
		ContextWindow:   200_000,
		MaxOutputTokens: 32_000,
		Streaming:       true,
		Thinking:        true,
		ThinkingMinBudget: 1024,
		ThinkingMaxBudget: 32_000,
		ThinkingDefault:   8192,
		PricingHint:     "high",
	},
	{
		ID:              "claude-haiku-4-5",
		Name:            "Claude Haiku 4.5",
		BaseModelID:     "claude-haiku-4-5",
		Family:          FamilyClaude,
		ContextWindow:   200_000,
		MaxOutputTokens: 32_000,
		Streaming:       true,
		Thinking:        false,
		PricingHint:     "low",
	},
	{
		ID:              "gemini-2.5-pro",
		Name:            "Gemini 2.5 Pro",
		BaseModelID:     "gemini-2.5-pro",
		Family:          FamilyGemini,
		ContextWindow:   1_048_576,
		MaxOutputTokens: 65_536,
		Streaming:       true,
		Thinking:        true,
		ThinkingMinBudget: 0,
		ThinkingMaxBudget: 32_768,
		ThinkingDefault:   8192,
		PricingHint:     "medium",
		Fallbacks:       []string{"gemini-2.5-pro-preview"},
	},
	{
		ID:              "gemini-2.5-pro-preview",
		Name:            "Gemini 2.5 Pro (preview)",
		BaseModelID:     "gemini-2.5-pro-preview",
		Family:          FamilyGemini,
		ContextWindow:   1_048_576,
		MaxOutputTokens: 65_536,
		Streaming:       true,
		Thinking:        true,
		ThinkingMinBudget: 0,
		ThinkingMaxBudget: 32_768,
		ThinkingDefault:   8192,
		PricingHint:     "medium",
	},
	{
		ID:              "gemini-2.5-flash",
		Name:            "Gemini 2.5 Flash",
		BaseModelID:     "gemini-2.5-flash",
		Family:          FamilyGemini,
		ContextWindow:   1_048_576,
		MaxOutputTokens: 65_536,
		Streaming:       true,
		Thinking:        true,
		ThinkingMinBudget: 0,
		ThinkingMaxBudget: 24_576,
		ThinkingDefault:   4096,
		PricingHint:     "low",
	},
}

var byID = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(catalog))
	for _, d := range catalog {
		m[d.ID] = d
	}
	return m
}()

// DefaultUnknownModel is what unresolved, unrecognized client model ids
// route to.
var DefaultUnknownModel = "gemini-2.5-pro"

// routeTable maps legacy OpenAI/Anthropic client-facing names onto catalog
// ids. Checked before the alias table.
var routeTable = map[string]string{
	"gpt-4o":             "gemini-2.5-pro",
	"gpt-4o-mini":        "gemini-2.5-flash",
	"gpt-4.1":            "gemini-2.5-pro",
	"o3":                 "gemini-2.5-pro",
	"claude-3-5-sonnet":  "claude-sonnet-4-5",
	"claude-3-opus":      "claude-opus-4-1",
	"claude-3-5-haiku":   "claude-haiku-4-5",
}

// aliasTable resolves cosmetic spellings to catalog ids.
var aliasTable = map[string]string{
	"sonnet":        "claude-sonnet-4-5",
	"opus":          "claude-opus-4-1",
	"haiku":         "claude-haiku-4-5",
	"gemini":        "gemini-2.5-pro",
	"gemini-flash":  "gemini-2.5-flash",
	"gemini-pro":    "gemini-2.5-pro",
}

// Router lets callers supply a user-configured priority-1 route map (exact
// match) and glob map.1 priority order.
type Router struct {
	UserExact map[string]string
	UserGlob  map[string]string
}

// Resolve maps a client-supplied model id to a canonical catalog id, trying
// user-exact overrides, then user-glob overrides, then the legacy route
// table, then the alias table, falling back to pass-through or the default.
func (r Router) Resolve(clientModelID string) string {
	id := strings.TrimSpace(clientModelID)
	if id == "" {
		return DefaultUnknownModel
	}

	if r.UserExact != nil {
		if v, ok := r.UserExact[id]; ok {
			return v
		}
	}
	if r.UserGlob != nil {
		if v, ok := matchGlob(r.UserGlob, id); ok {
			return v
		}
	}
	if v, ok := routeTable[id]; ok {
		return v
	}
	if v, ok := aliasTable[strings.ToLower(id)]; ok {
		return v
	}
	if _, ok := byID[id]; ok {
		return id
	}
	lower := strings.ToLower(id)
	if strings.HasPrefix(lower, "gemini-") || strings.Contains(lower, "thinking") {
		return id
	}
	return DefaultUnknownModel
}

// matchGlob implements "*" wildcard, prefix+suffix semantics: a pattern
// "foo-*-bar" matches ids that start with "foo-" and end with "-bar".
func matchGlob(globs map[string]string, id string) (string, bool) {
	for pattern, target := range globs {
		if globMatches(pattern, id) {
			return target, true
		}
	}
	return "", false
}

func globMatches(pattern, id string) bool {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return pattern == id
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(id) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(id, prefix) &&
		strings.HasSuffix(id, suffix)
}

// Describe returns the descriptor for a canonical id, if known.
func Describe(canonicalID string) (Descriptor, bool) {
	d, ok := byID[canonicalID]
	return d, ok
}

// BaseModelID returns the upstream model id for a canonical id, falling
// back to the canonical id itself when unknown.
func BaseModelID(canonicalID string) string {
	if d, ok := byID[canonicalID]; ok {
		return d.BaseModelID
	}
	return canonicalID
}

// FamilyOf returns the wire family for a canonical id, defaulting to Gemini.
func FamilyOf(canonicalID string) Family {
	if d, ok := byID[canonicalID]; ok {
		return d.Family
	}
	return FamilyGemini
}

// IsThinking reports whether the model supports/defaults to extended
// thinking.
func IsThinking(canonicalID string) bool {
	d, ok := byID[canonicalID]
	return ok && d.Thinking
}

// Fallbacks returns the ordered fallback-chain ids for a canonical id.
func Fallbacks(canonicalID string) []string {
	if d, ok := byID[canonicalID]; ok {
		return d.Fallbacks
	}
	return nil
}

// NormalizeThinkingBudget clamps n to the model's [min, max] thinking-token
// bounds; a non-positive n yields the model's default budget. Non-thinking
// models clamp to zero.
func NormalizeThinkingBudget(canonicalID string, n int) int {
	d, ok := byID[canonicalID]
	if !ok || !d.Thinking {
		return 0
	}
	if n <= 0 {
		return d.ThinkingDefault
	}
	if n < d.ThinkingMinBudget {
		return d.ThinkingMinBudget
	}
	if n > d.ThinkingMaxBudget {
		return d.ThinkingMaxBudget
	}
	return n
}

// All returns every catalog descriptor, in declaration order, for /v1/models.
func All() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// ReasoningEffortToBudget maps OpenAI Responses API reasoning.effort values
// to thinking-token budgets.4's OpenAI Responses section,
// then clamps to the model's bounds.
func ReasoningEffortToBudget(canonicalID, effort string) int {
	var raw int
	switch effort {
	case "low":
		raw = 1024
	case "medium":
		raw = 10240
	case "high":
		raw = 24576
	default:
		raw = 10240
	}
	return NormalizeThinkingBudget(canonicalID, raw)
}
