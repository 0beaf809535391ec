package accountpool

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

type memStore struct{ accounts []*Account }

func (m *memStore) Load() ([]*Account, error)       { return m.accounts, nil }
func (m *memStore) Save(accounts []*Account) error  { m.accounts = accounts; return nil }

type noopIDP struct{}

func (noopIDP) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "refreshed", Expiry: time.Now().Add(time.Hour)}, nil
}

func newTestPool(t *testing.T, accounts ...*Account) *Pool {
	t.Helper()
	p := New(&memStore{}, &noopIDP{}, zerolog.Nop())
	p.accounts = accounts
	return p
}

func freshAccount(id string, tier Tier) *Account {
	return &Account{
		ID:        id,
		ProjectID: "proj-" + id,
		Tier:      tier,
		Tokens:    TokenBundle{AccessToken: "tok-" + id, Expiry: time.Now().Add(time.Hour)},
	}
}

func TestGetValidAccessTokenCycleNoRepeat(t *testing.T) {
	a := freshAccount("a", TierFREE)
	b := freshAccount("b", TierFREE)
	p := newTestPool(t, a, b)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		sel, err := p.GetValidAccessToken(context.Background(), "gemini", "gemini-2.5-pro")
		if err != nil || sel == nil {
			t.Fatalf("unexpected: %v %v", sel, err)
		}
		if seen[sel.AccountID] {
			t.Errorf("account %s selected twice before full cycle", sel.AccountID)
		}
		seen[sel.AccountID] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both accounts selected across one cycle, got %v", seen)
	}
}

func TestGetValidAccessTokenPrefersHigherTier(t *testing.T) {
	free := freshAccount("free", TierFREE)
	ultra := freshAccount("ultra", TierULTRA)
	p := newTestPool(t, free, ultra)

	sel, err := p.GetValidAccessToken(context.Background(), "gemini", "gemini-2.5-pro")
	if err != nil || sel == nil {
		t.Fatalf("unexpected: %v %v", sel, err)
	}
	if sel.AccountID != "ultra" {
		t.Errorf("expected ULTRA account picked first, got %s", sel.AccountID)
	}
}

func TestMarkRateLimitedExponentialBackoff(t *testing.T) {
	a := freshAccount("a", TierFREE)
	p := newTestPool(t, a)

	wantLevels := []int64{1000, 2000, 4000, 8000}
	for i, want := range wantLevels {
		p.MarkRateLimited("a", -1, "gemini-2.5-pro")
		st := a.modelState("gemini-2.5-pro")
		got := st.NextRetryAfter.Sub(p.now()).Milliseconds()
		// allow a tiny tolerance since NextRetryAfter is computed from p.now() at call time
		if got < want-5 || got > want+5 {
			t.Errorf("attempt %d: got cooldown ~%dms, want %dms", i+1, got, want)
		}
		a.RateLimitedUntil = time.Time{} // not used for per-model path
	}
}

func TestMarkRateLimitedCapsAt30Min(t *testing.T) {
	a := freshAccount("a", TierFREE)
	p := newTestPool(t, a)
	for i := 0; i < 20; i++ {
		p.MarkRateLimited("a", -1, "gemini-2.5-pro")
	}
	st := a.modelState("gemini-2.5-pro")
	got := st.NextRetryAfter.Sub(p.now())
	if got > maxBackoffCooldown {
		t.Errorf("expected cooldown capped at %v, got %v", maxBackoffCooldown, got)
	}
}

func TestMarkSuccessClearsRateLimitForModel(t *testing.T) {
	a := freshAccount("a", TierFREE)
	p := newTestPool(t, a)
	p.MarkRateLimited("a", -1, "gemini-2.5-pro")
	if !a.blockedForModel("gemini-2.5-pro", p.now()) {
		t.Fatalf("expected account blocked after rate limit")
	}
	p.MarkSuccess("a", "gemini-2.5-pro")
	if a.blockedForModel("gemini-2.5-pro", p.now()) {
		t.Errorf("expected account unblocked after MarkSuccess")
	}
}

func TestBlockedAccountExcludedFromSelection(t *testing.T) {
	a := freshAccount("a", TierFREE)
	b := freshAccount("b", TierFREE)
	p := newTestPool(t, a, b)
	p.MarkRateLimited("a", 60_000, "gemini-2.5-pro")

	for i := 0; i < 3; i++ {
		sel, err := p.GetValidAccessToken(context.Background(), "gemini", "gemini-2.5-pro")
		if err != nil || sel == nil {
			t.Fatalf("unexpected: %v %v", sel, err)
		}
		if sel.AccountID != "b" {
			t.Errorf("expected only b selected while a is blocked, got %s", sel.AccountID)
		}
	}
}

func TestDisabledAccountNeverSelected(t *testing.T) {
	a := freshAccount("a", TierFREE)
	a.Disabled = true
	p := newTestPool(t, a)
	sel, err := p.GetValidAccessToken(context.Background(), "gemini", "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel != nil {
		t.Errorf("expected no selection, got %v", sel)
	}
}

func TestQuotaExhaustedUsesOneHourFloor(t *testing.T) {
	a := freshAccount("a", TierFREE)
	p := newTestPool(t, a)
	p.MarkQuotaExhausted("a", 0, "gemini-2.5-pro")
	st := a.modelState("gemini-2.5-pro")
	if st.NextRetryAfter.Sub(p.now()) < quotaExhaustedMinCooldown {
		t.Errorf("expected at least 1h cooldown, got %v", st.NextRetryAfter.Sub(p.now()))
	}
}
