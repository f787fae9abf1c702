package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenCachePutGet(t *testing.T) {
	c := NewTokenCache()
	creds := Credentials{ID: 1, Environment: "sandbox", APIKey: "merchant-1", SecretKey: "s1"}

	assert.Empty(t, c.Get(creds))
	c.Put(creds, "tok-abc", time.Minute)
	assert.Equal(t, "tok-abc", c.Get(creds))
}

func TestTokenCacheExpiry(t *testing.T) {
	c := NewTokenCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	creds := Credentials{Environment: "production", APIKey: "merchant-1", SecretKey: "s1"}

	c.Put(creds, "tok-abc", 10*time.Second)
	assert.Equal(t, "tok-abc", c.Get(creds))

	now = now.Add(11 * time.Second)
	assert.Empty(t, c.Get(creds))
}

func TestTokenCacheKeyedByCredentialAndEnvironment(t *testing.T) {
	c := NewTokenCache()
	sandbox := Credentials{Environment: "sandbox", APIKey: "m", SecretKey: "s"}
	production := Credentials{Environment: "production", APIKey: "m", SecretKey: "s"}
	other := Credentials{Environment: "sandbox", APIKey: "m2", SecretKey: "s"}

	c.Put(sandbox, "tok-sandbox", time.Minute)
	assert.Equal(t, "tok-sandbox", c.Get(sandbox))
	assert.Empty(t, c.Get(production))
	assert.Empty(t, c.Get(other))
}

func TestTokenCacheInvalidate(t *testing.T) {
	c := NewTokenCache()
	creds := Credentials{Environment: "sandbox", APIKey: "m", SecretKey: "s"}
	c.Put(creds, "tok", time.Minute)
	c.Invalidate(creds)
	assert.Empty(t, c.Get(creds))
}
