// Package sigcache implements the thinking-signature cache: a session-scoped
// map from a thinking-text fingerprint to the opaque signature upstream
// requires on replay. It is a TTL-gated, concurrency-safe process-wide
// singleton; its periodic sweep must never block request-handling threads.
package sigcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// TTL is how long a cached signature remains valid.
	TTL = 30 * time.Minute
	// PerSessionCap is the max entries per session bucket before eviction.
	PerSessionCap = 100
	// MinSignatureLength is the minimum length a string must have to be
	// accepted by Set; shorter strings are almost certainly truncated or
	// placeholder values, never real upstream signatures.
	MinSignatureLength = 8

	// Reserved sentinel strings that must never be treated as valid
	// signatures.
	SentinelPlaceholder   = "PLACEHOLDER"
	SentinelSkipSignature = "SKIP_SIGNATURE_SENTINEL"
)

type entry struct {
	signature string
	insertedAt time.Time
}

// Cache is safe for concurrent use. Each session bucket has its own
// sub-mutex-free map guarded by the single cache-wide mutex, which is
// sufficient at expected QPS.
type Cache struct {
	mu       sync.Mutex
	sessions map[string]map[string]entry // sessionID -> fingerprint -> entry
	now      func() time.Time
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{
		sessions: make(map[string]map[string]entry),
		now:      time.Now,
	}
}

// Fingerprint returns the first 16 hex chars of SHA-256(thinkingText).
func Fingerprint(thinkingText string) string {
	sum := sha256.Sum256([]byte(thinkingText))
	return hex.EncodeToString(sum[:])[:16]
}

// IsValidSignature rejects empty strings and both reserved sentinels.
func IsValidSignature(s string) bool {
	return s != "" && s != SentinelPlaceholder && s != SentinelSkipSignature
}

// Set stores a signature for (sessionID, thinkingText). Ignored when any
// argument is empty or the signature is below MinSignatureLength or is a
// sentinel.
func (c *Cache) Set(sessionID, thinkingText, signature string) {
	if sessionID == "" || thinkingText == "" || len(signature) < MinSignatureLength {
		return
	}
	if !IsValidSignature(signature) {
		return
	}

	fp := Fingerprint(thinkingText)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.sessions[sessionID]
	if !ok {
		bucket = make(map[string]entry)
		c.sessions[sessionID] = bucket
	}
	if len(bucket) >= PerSessionCap {
		evictExpiredLocked(bucket, now)
		if len(bucket) >= PerSessionCap {
			evictOldestQuarterLocked(bucket)
		}
	}
	bucket[fp] = entry{signature: signature, insertedAt: now}
}

// Get looks up a cached signature by (sessionID, thinkingText). Returns
// ("", false) on a miss or on TTL expiry (expired entries are evicted
// eagerly on lookup).
func (c *Cache) Get(sessionID, thinkingText string) (string, bool) {
	if sessionID == "" || thinkingText == "" {
		return "", false
	}
	fp := Fingerprint(thinkingText)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.sessions[sessionID]
	if !ok {
		return "", false
	}
	e, ok := bucket[fp]
	if !ok {
		return "", false
	}
	if now.Sub(e.insertedAt) > TTL {
		delete(bucket, fp)
		if len(bucket) == 0 {
			delete(c.sessions, sessionID)
		}
		return "", false
	}
	return e.signature, true
}

// Sweep drops every expired entry across all sessions and removes emptied
// buckets. Intended to be called periodically (see Run), never inline on a
// request path.
func (c *Cache) Sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for sessionID, bucket := range c.sessions {
		evictExpiredLocked(bucket, now)
		if len(bucket) == 0 {
			delete(c.sessions, sessionID)
		}
	}
}

// Run starts a cooperative sweep loop on interval, stopping when ctx is
// canceled. Wired via golang.org/x/sync/errgroup from main so shutdown is
// explicit rather than a bare fire-and-forget goroutine.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				c.Sweep()
			}
		}
	})
	return g.Wait()
}

func evictExpiredLocked(bucket map[string]entry, now time.Time) {
	for fp, e := range bucket {
		if now.Sub(e.insertedAt) > TTL {
			delete(bucket, fp)
		}
	}
}

// evictOldestQuarterLocked drops the oldest 25% of entries by insertion
// timestamp.
func evictOldestQuarterLocked(bucket map[string]entry) {
	type keyed struct {
		fp string
		at time.Time
	}
	all := make([]keyed, 0, len(bucket))
	for fp, e := range bucket {
		all = append(all, keyed{fp, e.insertedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	n := len(all) / 4
	for i := 0; i < n; i++ {
		delete(bucket, all[i].fp)
	}
}

// StableSessionID derives a stable fingerprint of a conversation from its
// first user text: a 32-bit FNV-1a hash of the first 200 characters rendered
// as "-" followed by its decimal digits (at most 10). Empty conversations get
// a random numeric fallback via RandomFallbackSessionID.
func StableSessionID(firstUserText string) string {
	text := firstUserText
	if r := []rune(text); len(r) > 200 {
		text = string(r[:200])
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	v := h.Sum32()
	// v is 32-bit, so n has at most 10 digits; prefix "-".
	n := int64(v) % 1_000_000_000_000
	if n < 0 {
		n = -n
	}
	return "-" + itoa(n)
}

// RandomFallbackSessionID returns a random numeric session id for empty
// conversations, in the same "-" + digits shape as StableSessionID.
func RandomFallbackSessionID() string {
	return "-" + itoa(rand.Int64N(1_000_000_000_000))
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
