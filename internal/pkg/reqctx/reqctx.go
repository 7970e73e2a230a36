// Package reqctx carries per-request metadata (request id, idempotency key,
// session id and caller identity) through a context.Context.
package reqctx

import "context"

// contextKey is an unexported type for context keys in this package.
// Using a custom type prevents collisions with keys from other packages
// that might use the same underlying string value.
type contextKey string

const (
	HeaderXRequestId      = "x-request-id"
	HeaderXIdempotencyKey = "x-idempotency-key"

	// ContextKeyRequestID is the context key for the request ID.
	ContextKeyRequestID contextKey = HeaderXRequestId
	// ContextKeyIdempotencyKey is the context key for the idempotency key.
	ContextKeyIdempotencyKey contextKey = HeaderXIdempotencyKey

	contextKeySessionID contextKey = "session-id"
	contextKeyIdentity  contextKey = "identity"
)

// Identity is the already-authenticated caller of a request.
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller holds the administrator role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ContextKeyIdempotencyKey, key)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeySessionID, id)
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// RequestID returns the request id, or "" when none was attached.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyRequestID)
}

// IdempotencyKey returns the client supplied idempotency key, or "".
func IdempotencyKey(ctx context.Context) string {
	return stringValue(ctx, ContextKeyIdempotencyKey)
}

// SessionID returns the storefront session id, or "".
func SessionID(ctx context.Context) string {
	return stringValue(ctx, contextKeySessionID)
}

// IdentityFrom returns the caller identity. ok is false for anonymous requests.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

func stringValue(ctx context.Context, key contextKey) string {
	// Use comma-ok idiom to safely extract typed context values.
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
