package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fraudshield/scoring-engine/internal/hashing"
	"github.com/fraudshield/scoring-engine/internal/models"
)

const (
	APIKeyHeader = "X-API-Key"
	ClientKey    = "client"
)

// ClientSource resolves a tenant from the digest of its API key.
type ClientSource interface {
	GetByAPIKeyDigest(ctx context.Context, digest string) (*models.Client, error)
}

type cachedClient struct {
	client  *models.Client
	expires time.Time
}

// APIKeyAuthenticator authenticates tenant traffic. Successful lookups are
// cached briefly so the hot path does not hit the store on every request;
// a rotated key therefore takes up to the cache TTL to propagate.
type APIKeyAuthenticator struct {
	hasher  *hashing.Hasher
	clients ClientSource
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cachedClient
}

func NewAPIKeyAuthenticator(hasher *hashing.Hasher, clients ClientSource) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{
		hasher:  hasher,
		clients: clients,
		ttl:     time.Minute,
		cache:   make(map[string]cachedClient),
	}
}

// Middleware resolves X-API-Key to a tenant and stores it in the gin context.
func (a *APIKeyAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.APIError{
				ErrorCode: models.ErrCodeUnauthorized,
				Message:   "missing API key",
				RequestID: c.GetString("request_id"),
			})
			return
		}

		client, err := a.resolve(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.APIError{
				ErrorCode: models.ErrCodeUnauthorized,
				Message:   "invalid API key",
				RequestID: c.GetString("request_id"),
			})
			return
		}

		c.Set(ClientKey, client)
		c.Next()
	}
}

func (a *APIKeyAuthenticator) resolve(ctx context.Context, key string) (*models.Client, error) {
	digest := a.hasher.Digest(hashing.KindAPIKey, key)

	a.mu.RLock()
	entry, ok := a.cache[digest]
	a.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.client, nil
	}

	client, err := a.clients.GetByAPIKeyDigest(ctx, digest)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[digest] = cachedClient{client: client, expires: time.Now().Add(a.ttl)}
	a.mu.Unlock()
	return client, nil
}

// KeyDigest exposes the digest used for storage, shared with the admin
// surface when creating or rotating keys.
func (a *APIKeyAuthenticator) KeyDigest(key string) string {
	return a.hasher.Digest(hashing.KindAPIKey, key)
}

// ClientFromContext pulls the authenticated tenant out of the gin context.
func ClientFromContext(c *gin.Context) *models.Client {
	v, ok := c.Get(ClientKey)
	if !ok {
		return nil
	}
	client, _ := v.(*models.Client)
	return client
}
