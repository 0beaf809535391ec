package accountpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// refreshWindow is the "expiring soon" threshold.
	refreshWindow = 5 * time.Minute

	// defaultRateLimitCooldown is used for a generic rate limit with no
	// server-supplied retry hint.
	defaultRateLimitCooldown = 60 * time.Second

	// quotaExhaustedMinCooldown is the floor cooldown for a confirmed
	// quota-exhausted classification.
	quotaExhaustedMinCooldown = time.Hour

	// maxBackoffCooldown caps the exponential backoff ladder.
	maxBackoffCooldown = 30 * time.Minute
)

// Selection is what getValidAccessToken hands back to the orchestrator.
type Selection struct {
	AccessToken string
	ProjectID   string
	AccountID   string
}

// Pool holds every known account plus a per-family round-robin cursor. All
// mutations are serialized through a single mutex, sufficient at expected
// QPS.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	cursor   map[string]int // family -> next index into the sorted survivor list

	store Store
	idp   IdentityProvider
	log   zerolog.Logger
	now   func() time.Time
}

func New(store Store, idp IdentityProvider, log zerolog.Logger) *Pool {
	return &Pool{
		cursor: make(map[string]int),
		store:  store,
		idp:    idp,
		log:    log.With().Str("component", "accountpool").Logger(),
		now:    time.Now,
	}
}

// Load populates the pool from its Store.
func (p *Pool) Load() error {
	accounts, err := p.store.Load()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()
	return nil
}

func (p *Pool) saveLocked() {
	if err := p.store.Save(p.accounts); err != nil {
		p.log.Warn().Err(err).Msg("failed to persist account pool")
	}
}

// Add registers a newly logged-in account and persists immediately.
func (p *Pool) Add(a *Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = p.now()
	}
	p.accounts = append(p.accounts, a)
	p.saveLocked()
}

// Remove deletes an account by id.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range p.accounts {
		if a.ID == id {
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			p.saveLocked()
			return true
		}
	}
	return false
}

// Accounts returns a snapshot of the current account list (for operator
// tooling only — never mutated directly).
func (p *Pool) Accounts() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// GetValidAccessToken selects the next account for a request. family scopes
// the round-robin cursor (distinct Claude/Gemini cursors); model is used
// for per-model blocking and refresh.
func (p *Pool) GetValidAccessToken(ctx context.Context, family, model string) (*Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	survivors := make([]*Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		if !a.blockedForModel(model, now) {
			survivors = append(survivors, a)
		}
	}
	if len(survivors) == 0 {
		p.logEarliestCooldown(model, now)
		return nil, nil
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Tier < survivors[j].Tier
	})

	idx := p.cursor[family] % len(survivors)
	p.cursor[family] = (p.cursor[family] + 1) % len(survivors)
	account := survivors[idx]

	if account.Tokens.expiresWithin(refreshWindow, now) {
		if err := refreshAccountLocked(ctx, p.idp, account); err != nil {
			if IsInvalidGrant(err) {
				account.Disabled = true
				account.DisabledReason = err.Error()
				p.saveLocked()
			}
			p.log.Warn().Err(err).Str("account", account.ID).Msg("token refresh failed, trying next account")
			return p.retryWithout(ctx, family, model, account.ID, survivors)
		}
		p.saveLocked()
	}

	account.LastUsedAt = now
	p.saveLocked()
	return &Selection{
		AccessToken: account.Tokens.AccessToken,
		ProjectID:   account.ProjectID,
		AccountID:   account.ID,
	}, nil
}

// retryWithout recurses into the survivor set minus the account whose
// refresh just failed.
func (p *Pool) retryWithout(ctx context.Context, family, model, excludeID string, survivors []*Account) (*Selection, error) {
	var remaining []*Account
	for _, a := range survivors {
		if a.ID != excludeID {
			remaining = append(remaining, a)
		}
	}
	if len(remaining) == 0 {
		return nil, nil
	}
	idx := p.cursor[family] % len(remaining)
	p.cursor[family] = (p.cursor[family] + 1) % len(remaining)
	account := remaining[idx]
	now := p.now()
	if account.Tokens.expiresWithin(refreshWindow, now) {
		if err := refreshAccountLocked(ctx, p.idp, account); err != nil {
			if IsInvalidGrant(err) {
				account.Disabled = true
				account.DisabledReason = err.Error()
				p.saveLocked()
			}
			return p.retryWithout(ctx, family, model, account.ID, remaining)
		}
	}
	account.LastUsedAt = now
	p.saveLocked()
	return &Selection{
		AccessToken: account.Tokens.AccessToken,
		ProjectID:   account.ProjectID,
		AccountID:   account.ID,
	}, nil
}

func (p *Pool) logEarliestCooldown(model string, now time.Time) {
	var earliest time.Time
	for _, a := range p.accounts {
		if a.Disabled {
			continue
		}
		candidate := a.RateLimitedUntil
		if st := a.modelState(model); st != nil && st.Unavailable {
			candidate = st.NextRetryAfter
		}
		if candidate.IsZero() {
			continue
		}
		if earliest.IsZero() || candidate.Before(earliest) {
			earliest = candidate
		}
	}
	if !earliest.IsZero() {
		p.log.Warn().Str("model", model).Time("earliestReset", earliest).Msg("no account available, all cooling down")
	}
}

// MarkRateLimited applies backoff bookkeeping. retryMs<0 means no server
// hint was parsed, triggering the exponential ladder; retryMs>=0 is used
// verbatim without touching backoffLevel.
func (p *Pool) MarkRateLimited(accountID string, retryMs int64, model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.find(accountID)
	if a == nil {
		return
	}
	now := p.now()

	if model == "" {
		if retryMs >= 0 {
			a.RateLimitedUntil = now.Add(time.Duration(retryMs) * time.Millisecond)
		} else {
			a.RateLimitedUntil = now.Add(defaultRateLimitCooldown)
		}
		p.saveLocked()
		return
	}

	st := a.ensureModelState(model)
	if retryMs >= 0 {
		st.Unavailable = true
		st.NextRetryAfter = now.Add(time.Duration(retryMs) * time.Millisecond)
		st.LastError = "rate_limited"
		p.saveLocked()
		return
	}

	cooldown := time.Duration(1000*pow2(st.BackoffLevel)) * time.Millisecond
	newLevel := st.BackoffLevel + 1
	if cooldown >= maxBackoffCooldown {
		cooldown = maxBackoffCooldown
		newLevel = st.BackoffLevel
	}
	st.Unavailable = true
	st.NextRetryAfter = now.Add(cooldown)
	st.BackoffLevel = newLevel
	st.LastError = "rate_limited"
	p.saveLocked()
}

// MarkQuotaExhausted applies a long, model-not-account cooldown: at least
// one hour, or the server hint if it's longer.
func (p *Pool) MarkQuotaExhausted(accountID string, retryMs int64, model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.find(accountID)
	if a == nil || model == "" {
		return
	}
	now := p.now()
	cooldown := quotaExhaustedMinCooldown
	if hint := time.Duration(retryMs) * time.Millisecond; hint > cooldown {
		cooldown = hint
	}
	st := a.ensureModelState(model)
	st.Unavailable = true
	st.NextRetryAfter = now.Add(cooldown)
	st.LastError = "quota_exhausted"
	p.saveLocked()
}

// MarkSuccess resets per-model state to zero and clears the global cooldown.
func (p *Pool) MarkSuccess(accountID, model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.find(accountID)
	if a == nil {
		return
	}
	a.RateLimitedUntil = time.Time{}
	if model != "" && a.PerModel != nil {
		delete(a.PerModel, model)
	}
	p.saveLocked()
}

// MarkDisabled flags an account as never-selectable, with an informational
// reason.
func (p *Pool) MarkDisabled(accountID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.find(accountID)
	if a == nil {
		return
	}
	a.Disabled = true
	a.DisabledReason = reason
	p.saveLocked()
}

// ClearAllRateLimits drops every cooldown, global and per-model, across
// every account — an operator escape hatch.
func (p *Pool) ClearAllRateLimits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		a.RateLimitedUntil = time.Time{}
		a.PerModel = nil
	}
	p.saveLocked()
}

func (p *Pool) find(id string) *Account {
	for _, a := range p.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Count returns the number of known accounts, used by the orchestrator to
// bound its retry loop at 2×accountCount.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

func pow2(n int) int64 {
	if n < 0 {
		return 1
	}
	if n > 40 {
		n = 40 // plenty past maxBackoffCooldown; guards against overflow
	}
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
