// Package ctxutil carries request-scoped values shared by the HTTP server
// and the MCP tools without either importing the other.
package ctxutil

import "context"

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyUserID    contextKey = "user_id"
)

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext returns the request ID, or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}

// UserSlot is a mutable holder placed in the context by the logging
// middleware so handlers deeper in the chain can report the authenticated
// user back to it after the access token is resolved.
type UserSlot struct {
	UserID string
}

// WithUserSlot returns a context carrying slot.
func WithUserSlot(ctx context.Context, slot *UserSlot) context.Context {
	return context.WithValue(ctx, keyUserID, slot)
}

// SetUserID records the authenticated user on the request's slot, if any.
func SetUserID(ctx context.Context, userID string) {
	if slot, ok := ctx.Value(keyUserID).(*UserSlot); ok && slot != nil {
		slot.UserID = userID
	}
}

// UserIDFromContext returns the user recorded with SetUserID, or "".
func UserIDFromContext(ctx context.Context) string {
	if slot, ok := ctx.Value(keyUserID).(*UserSlot); ok && slot != nil {
		return slot.UserID
	}
	return ""
}
