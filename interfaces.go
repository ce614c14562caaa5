package fireglobe

import (
	"context"
	"net/http"
)

// ContentStore pins a document and returns its IPFS content hash. Supply one
// with WithContentStore to replace the Lighthouse or S3 store.
type ContentStore interface {
	// Name identifies the store on /health.
	Name() string
	Put(ctx context.Context, name string, data []byte) (hash string, err error)
}

// RouteRegistrar adds routes to the relay's mux.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler
