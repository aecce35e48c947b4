package payments

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

// defaultRefreshSkew renews a credential this long before it actually expires.
const defaultRefreshSkew = 30 * time.Second

// Credential is an Authorization header value and the moment it stops being valid.
// A zero ExpiresAt never expires.
type Credential struct {
	Header    string
	ExpiresAt time.Time
}

func (c Credential) validAt(now time.Time, skew time.Duration) bool {
	if c.Header == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Add(skew).Before(c.ExpiresAt)
}

// TokenSource issues short-lived bearer tokens, e.g. from an OAuth partner integration.
type TokenSource interface {
	Token(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// CredentialCache owns the gateway credential. Reads are served from the cached value
// until it nears expiry; refreshes are serialised so concurrent callers share one fetch.
type CredentialCache struct {
	mu      sync.Mutex
	current Credential
	fetch   func(ctx context.Context) (Credential, error)
	now     func() time.Time
	skew    time.Duration
}

// NewBasicCredentials builds a non-expiring Basic credential from the shop id and secret key.
func NewBasicCredentials(shopID, secretKey string) *CredentialCache {
	header := "Basic " + base64.StdEncoding.EncodeToString([]byte(shopID+":"+secretKey))
	return &CredentialCache{
		fetch: func(context.Context) (Credential, error) {
			if shopID == "" || secretKey == "" {
				return Credential{}, errors.New("payments: shop id and secret key are required")
			}
			return Credential{Header: header}, nil
		},
		now:  time.Now,
		skew: defaultRefreshSkew,
	}
}

// NewTokenCredentials caches bearer tokens from src, refreshing them shortly before expiry.
func NewTokenCredentials(src TokenSource) *CredentialCache {
	return &CredentialCache{
		fetch: func(ctx context.Context) (Credential, error) {
			token, exp, err := src.Token(ctx)
			if err != nil {
				return Credential{}, err
			}
			return Credential{Header: "Bearer " + token, ExpiresAt: exp}, nil
		},
		now:  time.Now,
		skew: defaultRefreshSkew,
	}
}

// Authorization returns a valid header value, refreshing the cached credential when needed.
func (c *CredentialCache) Authorization(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.validAt(c.now(), c.skew) {
		return c.current.Header, nil
	}
	cred, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.current = cred
	return cred.Header, nil
}

// Invalidate drops the cached credential, e.g. after the gateway answered 401.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	c.current = Credential{}
	c.mu.Unlock()
}
