// Package authz resolves access tokens to users and decides who may modify
// a test run.
//
// The HTTP server and the MCP server both authenticate through a shared
// TokenCache so that a burst of SDK uploads costs one users lookup per token
// per TTL window.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Marshal-AM/fireglobe/internal/model"
	"github.com/Marshal-AM/fireglobe/internal/storage"
)

// ErrInvalidToken is returned when a token is empty or matches no user.
var ErrInvalidToken = errors.New("authz: invalid access token")

// UserLookup resolves an access token to its user. *storage.DB satisfies it.
type UserLookup interface {
	GetUserByAccessToken(ctx context.Context, token string) (model.User, error)
}

// TokenCache maps access tokens to user ids with bounded size and TTL.
// Negative results are not cached, so a freshly created user can
// authenticate immediately.
type TokenCache struct {
	lookup UserLookup
	users  *expirable.LRU[string, string]
}

// NewTokenCache creates a cache holding at most size tokens for ttl each.
func NewTokenCache(lookup UserLookup, size int, ttl time.Duration) *TokenCache {
	if size <= 0 {
		size = 1024
	}
	return &TokenCache{
		lookup: lookup,
		users:  expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Authenticate returns the user id owning token.
func (c *TokenCache) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	if userID, ok := c.users.Get(token); ok {
		return userID, nil
	}

	u, err := c.lookup.GetUserByAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("authz: lookup token: %w", err)
	}
	c.users.Add(token, u.UserID)
	return u.UserID, nil
}

// Len reports the number of cached tokens.
func (c *TokenCache) Len() int { return c.users.Len() }

// CanModifyRun reports whether userID owns run.
func CanModifyRun(userID string, run model.TestRun) bool {
	return userID != "" && run.UserID == userID
}
