package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/logging"
)

// Clock supplies the current time; injectable so tests can drive expiry
// deterministically.
type Clock func() time.Time

// SasTokenResponse is the token issuer's answer for one service.
type SasTokenResponse struct {
	SasToken string    `json:"sas_token"`
	Expiry   time.Time `json:"expiry"`
}

// TokenIssuer fetches a fresh SAS token for a service. The service name
// encodes target scope and container, e.g. "cft-bulkscan".
type TokenIssuer interface {
	GetSasToken(ctx context.Context, service string) (*SasTokenResponse, error)
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// SasTokenCache caches short-lived per-container write tokens. Entries
// are namespaced by target scope: two scopes issue distinct tokens for
// the same container name. The cache is shared across parallel workers;
// concurrent misses for one key may fetch twice, which is harmless.
type SasTokenCache struct {
	issuer        TokenIssuer
	clock         Clock
	refreshMargin time.Duration
	log           logging.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken
}

func NewSasTokenCache(issuer TokenIssuer, refreshMargin time.Duration, clock Clock, log logging.Logger) *SasTokenCache {
	if clock == nil {
		clock = time.Now
	}
	return &SasTokenCache{
		issuer:        issuer,
		clock:         clock,
		refreshMargin: refreshMargin,
		log:           log,
		tokens:        make(map[string]cachedToken),
	}
}

func cacheKey(scope, container string) string {
	return scope + "/" + container
}

// GetSasToken returns a cached non-expired token for (scope, container),
// fetching from the issuer on a miss. A token within refreshMargin of its
// expiry counts as already stale.
func (c *SasTokenCache) GetSasToken(ctx context.Context, scope, container string) (string, error) {
	key := cacheKey(scope, container)

	c.mu.Lock()
	entry, ok := c.tokens[key]
	c.mu.Unlock()

	if ok && c.clock().Before(entry.expiresAt.Add(-c.refreshMargin)) {
		return entry.token, nil
	}

	resp, err := c.issuer.GetSasToken(ctx, scope+"-"+container)
	if err != nil {
		return "", fmt.Errorf("sas token fetch for %s: %w", key, err)
	}

	c.mu.Lock()
	c.tokens[key] = cachedToken{token: resp.SasToken, expiresAt: resp.Expiry}
	c.mu.Unlock()

	c.log.Info(ctx, "obtained new sas token", "scope", scope, "container", container, "expiry", resp.Expiry)

	return resp.SasToken, nil
}

// Invalidate unconditionally drops the cached entry. It does not retry a
// fetch; the caller re-requests on the next use.
func (c *SasTokenCache) Invalidate(scope, container string) {
	c.mu.Lock()
	delete(c.tokens, cacheKey(scope, container))
	c.mu.Unlock()
}
