package auth

import (
	"context"

	"github.com/wardenhq/warden/internal/types"
)

type contextKey string

const identityContextKey contextKey = "warden_identity"

// Identity is the authenticated agent behind a request.
type Identity struct {
	KeyID      string
	Agent      string
	TrustLevel types.TrustLevel
	Admin      bool
}

func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok
}
