package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/nextlane/antigw/internal/accountpool"
	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/dialect"
	"github.com/nextlane/antigw/internal/dialect/openaichat"
	"github.com/nextlane/antigw/internal/sigcache"
	"github.com/nextlane/antigw/internal/upstream"
)

type memStore struct{ accounts []*accountpool.Account }

func (m *memStore) Load() ([]*accountpool.Account, error)      { return m.accounts, nil }
func (m *memStore) Save(accounts []*accountpool.Account) error { m.accounts = accounts; return nil }

type noopIDP struct{}

func (noopIDP) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "refreshed", Expiry: time.Now().Add(time.Hour)}, nil
}

func freshAccount(id string) *accountpool.Account {
	return &accountpool.Account{
		ID:        id,
		ProjectID: "proj-" + id,
		Tier:      accountpool.TierFREE,
		Tokens:    accountpool.TokenBundle{AccessToken: "tok-" + id, Expiry: time.Now().Add(time.Hour)},
	}
}

func newTestOrchestrator(t *testing.T, serverURL string, accounts ...*accountpool.Account) *Orchestrator {
	t.Helper()
	pool := accountpool.New(&memStore{}, noopIDP{}, zerolog.Nop())
	if err := pool.Load(); err != nil {
		t.Fatalf("pool.Load: %v", err)
	}
	for _, a := range accounts {
		pool.Add(a)
	}

	client, err := upstream.NewClient(upstream.NewTunedHTTPClient(), []string{serverURL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	registry := dialect.NewRegistry(openaichat.New(sigcache.New(), aimodels.Router{}))
	return &Orchestrator{
		Registry: registry,
		Pool:     pool,
		Client:   client,
		Cache:    sigcache.New(),
		Log:      zerolog.Nop(),
	}
}

func TestHandleBatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"hi there"}]},"finishReason":"STOP"}]}}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, freshAccount("a"))
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`)
	out, err := o.Handle(context.Background(), "openai-chat", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty response")
	}
}

func TestHandleBatchRotatesAccountOnRateLimit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(429)
			_, _ = w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]},"finishReason":"STOP"}]}}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, freshAccount("a"), freshAccount("b"))
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`)
	out, err := o.Handle(context.Background(), "openai-chat", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected exactly 2 upstream hits (rate-limited then success), got %d", hits)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty response")
	}
}

type fakeStreamWriter struct{ frames [][]byte }

func (f *fakeStreamWriter) WriteFrame(frame []byte) error {
	f.frames = append(f.frames, frame)
	return nil
}

func TestHandleStreamWritesFramesThenDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"a\"}]}}]}}\n"))
		_, _ = w.Write([]byte("data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"b\"}]},\"finishReason\":\"STOP\"}]}}\n"))
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, freshAccount("a"))
	fw := &fakeStreamWriter{}
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}],"stream":true}`)
	if err := o.HandleStream(context.Background(), "openai-chat", body, fw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fw.frames) == 0 {
		t.Fatalf("expected frames written")
	}
	last := string(fw.frames[len(fw.frames)-1])
	if last != "data: [DONE]\n\n" {
		t.Errorf("expected final frame to be DONE terminator, got %q", last)
	}
}
