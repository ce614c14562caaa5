// Package ipfs uploads JSON documents to IPFS-compatible storage and returns
// their content identifiers.
package ipfs

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured is returned by a store that lacks credentials.
var ErrNotConfigured = errors.New("ipfs: store not configured")

// Object is a document pinned by a Store.
type Object struct {
	Name string
	Hash string
	Size int64
}

// Store pins documents and reports their content hash.
type Store interface {
	// Name identifies the backend in logs and /health.
	Name() string
	// Configured reports whether the store has the credentials it needs.
	Configured() bool
	Put(ctx context.Context, name string, data []byte) (Object, error)
}

// GatewayURL returns the public URL of hash on gateway.
func GatewayURL(gateway, hash string) string {
	return strings.TrimRight(gateway, "/") + "/ipfs/" + hash
}
