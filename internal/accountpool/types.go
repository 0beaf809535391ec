// Package accountpool holds the pool of OAuth-authenticated upstream
// accounts, their per-(account,model) cooldown state, and the selection
// algorithm the orchestrator uses to find an eligible account for each
// attempt.
package accountpool

import (
	"encoding/json"
	"time"
)

// Tier is the account's service priority class. Lower values are
// preferred by the selection algorithm's sort step.
type Tier int

const (
	TierULTRA Tier = iota
	TierPRO
	TierFREE
	TierUnknown
)

func (t Tier) String() string {
	switch t {
	case TierULTRA:
		return "ULTRA"
	case TierPRO:
		return "PRO"
	case TierFREE:
		return "FREE"
	default:
		return "unknown"
	}
}

// ParseTier maps a persisted tier string onto Tier, defaulting to
// TierUnknown for anything unrecognized.
func ParseTier(s string) Tier {
	switch s {
	case "ULTRA":
		return TierULTRA
	case "PRO":
		return TierPRO
	case "FREE":
		return TierFREE
	default:
		return TierUnknown
	}
}

// MarshalYAML renders Tier as its string name so accounts.yaml stays
// human-editable.
func (t Tier) MarshalYAML() (any, error) {
	return t.String(), nil
}

// UnmarshalYAML accepts the string tier name.
func (t *Tier) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*t = ParseTier(s)
	return nil
}

// MarshalJSON renders Tier as its string name, for accounts files persisted
// as JSON5 instead of YAML.
func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts the string tier name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseTier(s)
	return nil
}

// TokenBundle is an access/refresh token pair with an absolute expiry.
// Invariant: any bundle the pool hands out has Expiry more than 5 minutes
// in the future — callers never see a bundle on the cusp of
// expiring mid-request.
type TokenBundle struct {
	AccessToken  string    `yaml:"accessToken" json:"accessToken"`
	RefreshToken string    `yaml:"refreshToken" json:"refreshToken"`
	Expiry       time.Time `yaml:"expiry" json:"expiry"`
}

func (b TokenBundle) expiresWithin(d time.Duration, now time.Time) bool {
	return b.Expiry.Sub(now) <= d
}

// PerModelState is the per-(account,model) cooldown record.
// Reset to its zero value on a successful call for that pair.
type PerModelState struct {
	Unavailable    bool      `yaml:"unavailable" json:"unavailable"`
	NextRetryAfter time.Time `yaml:"nextRetryAfter" json:"nextRetryAfter"`
	BackoffLevel   int       `yaml:"backoffLevel" json:"backoffLevel"`
	LastError      string    `yaml:"lastError" json:"lastError"`
}

func (s PerModelState) blocked(now time.Time) bool {
	return s.Unavailable && s.NextRetryAfter.After(now)
}

// QuotaSummary is an optional, display-only quota snapshot the upstream
// occasionally reports; the gateway never computes it, only forwards it.
type QuotaSummary struct {
	Tier      string `yaml:"tier,omitempty" json:"tier,omitempty"`
	Remaining *int   `yaml:"remaining,omitempty" json:"remaining,omitempty"`
	ResetAt   *time.Time `yaml:"resetAt,omitempty" json:"resetAt,omitempty"`
}

// Source records how an account entered the pool, carried for operator
// visibility only — never consulted by the selection algorithm.
type Source string

const (
	SourceLogin  Source = "login"
	SourceImport Source = "import"
)

// Account is one OAuth-authenticated upstream identity.
type Account struct {
	ID        string `yaml:"id" json:"id"`
	Email     string `yaml:"email" json:"email"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	ProjectID string `yaml:"projectId" json:"projectId"`
	Tier      Tier   `yaml:"tier" json:"tier"`

	Tokens TokenBundle `yaml:"tokens" json:"tokens"`

	CreatedAt  time.Time `yaml:"createdAt" json:"createdAt"`
	LastUsedAt time.Time `yaml:"lastUsedAt,omitempty" json:"lastUsedAt,omitempty"`

	Disabled       bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	DisabledReason string `yaml:"disabledReason,omitempty" json:"disabledReason,omitempty"`

	RateLimitedUntil time.Time `yaml:"rateLimitedUntil,omitempty" json:"rateLimitedUntil,omitempty"`

	PerModel map[string]*PerModelState `yaml:"perModel,omitempty" json:"perModel,omitempty"`

	Quota *QuotaSummary `yaml:"quota,omitempty" json:"quota,omitempty"`

	Source Source `yaml:"source,omitempty" json:"source,omitempty"`
}

func (a *Account) modelState(model string) *PerModelState {
	if a.PerModel == nil {
		return nil
	}
	return a.PerModel[model]
}

func (a *Account) ensureModelState(model string) *PerModelState {
	if a.PerModel == nil {
		a.PerModel = make(map[string]*PerModelState)
	}
	s, ok := a.PerModel[model]
	if !ok {
		s = &PerModelState{}
		a.PerModel[model] = s
	}
	return s
}

// blockedForModel reports whether the account is blocked for model: either
// disabled, per-model unavailable with a future retry time, or, when no
// per-model entry exists for model, under the global rate-limit cooldown.
func (a *Account) blockedForModel(model string, now time.Time) bool {
	if a.Disabled {
		return true
	}
	if st := a.modelState(model); st != nil {
		return st.blocked(now)
	}
	return !a.RateLimitedUntil.IsZero() && a.RateLimitedUntil.After(now)
}
