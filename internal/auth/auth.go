// Package auth obtains and caches the bearer credential for the marketplace.
//
// The Authenticator reuses a cached credential until it is within
// TokenLifetimeReserve of expiry, then performs one OAuth exchange. Concurrent
// callers that all miss the cache may each run an exchange; the last write
// wins and every write replaces the whole record. A credential whose provider
// reported no expiry is stored with ExpiresAt 0 and is never reused, so each
// call exchanges again; a warning is logged when that happens.
package auth

import (
	"context"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/sirupsen/logrus"
)

// TokenLifetimeReserve is how long before expiry a cached credential stops being reused.
const TokenLifetimeReserve = 120 * time.Second

// Credential is a bearer token and its expiry in unix seconds.
type Credential struct {
	Token     string
	ExpiresAt int64
}

// Cache stores at most one credential per key for the life of the process.
type Cache interface {
	Get(key string) (Credential, bool)
	Put(key string, cred Credential)
}

// Exchanger performs a fresh credential exchange with the identity provider.
type Exchanger interface {
	Exchange(ctx context.Context) (Credential, error)
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Credential
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]Credential{}}
}

func (c *MemoryCache) Get(key string) (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.entries[key]
	return cred, ok
}

func (c *MemoryCache) Put(key string, cred Credential) {
	c.mu.Lock()
	c.entries[key] = cred
	c.mu.Unlock()
}

type Authenticator struct {
	key       string
	cache     Cache
	exchanger Exchanger
	now       func() time.Time
	log       logrus.FieldLogger
}

// New builds an Authenticator whose cache key is the account username
// (empty when unset).
func New(key string, cache Cache, exchanger Exchanger, log logrus.FieldLogger) *Authenticator {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Authenticator{
		key:       key,
		cache:     cache,
		exchanger: exchanger,
		now:       time.Now,
		log:       log,
	}
}

// Token returns a cached credential that is still outside the expiry reserve,
// or exchanges for a new one. Configuration errors pass through unchanged;
// every other failure becomes an auth error and nothing is cached.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	now := a.now().Unix()
	if cred, ok := a.cache.Get(a.key); ok && cred.Token != "" && cred.ExpiresAt > now+int64(TokenLifetimeReserve/time.Second) {
		return cred.Token, nil
	}

	cred, err := a.exchanger.Exchange(ctx)
	if err != nil {
		a.log.WithError(err).Error("Error fetching user OAuth token")
		if clierr.IsCode(err, clierr.CodeConfig) {
			return "", err
		}
		return "", clierr.Wrap(clierr.CodeAuth, "Failed to fetch user OAuth token", err)
	}
	if cred.Token == "" {
		return "", clierr.New(clierr.CodeAuth, "Failed to fetch user OAuth token")
	}
	if cred.ExpiresAt == 0 {
		a.log.Warn("OAuth token has no expiry; it will be exchanged again on every call")
	}
	a.cache.Put(a.key, cred)
	return cred.Token, nil
}

// Name returns the "name" claim of the current credential, or "" when absent.
func (a *Authenticator) Name(ctx context.Context) (string, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return "", err
	}
	return NameClaim(token)
}
