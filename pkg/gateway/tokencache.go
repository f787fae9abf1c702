package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// TokenCache caches short-lived provider access tokens keyed by credential
// identity and environment, with an explicit expiry check. It is injected
// into adapters that need it so token reuse is testable and safe under
// concurrent requests.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{
		tokens: make(map[string]cachedToken),
		now:    time.Now,
	}
}

// cacheKey never embeds the raw credential; tokens are keyed by a digest.
func cacheKey(creds Credentials) string {
	sum := sha256.Sum256([]byte(creds.APIKey + ":" + creds.SecretKey))
	return creds.Environment + ":" + hex.EncodeToString(sum[:8])
}

// Get returns a cached token that is still valid, or "".
func (c *TokenCache) Get(creds Credentials) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[cacheKey(creds)]
	if !ok || !c.now().Before(t.expiresAt) {
		delete(c.tokens, cacheKey(creds))
		return ""
	}
	return t.value
}

// Put stores a token with a time-to-live.
func (c *TokenCache) Put(creds Credentials, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[cacheKey(creds)] = cachedToken{value: token, expiresAt: c.now().Add(ttl)}
}

// Invalidate drops the cached token for a credential set, e.g. after a 401.
func (c *TokenCache) Invalidate(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, cacheKey(creds))
}
