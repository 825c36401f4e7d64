package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles carried in the Firebase "role" custom claim. Tokens without the claim are customers.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the signed-in principal. UID doubles as the order owner for ownership checks.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole matches role against Roles ignoring case and surrounding space.
func (i *Identity) HasRole(role string) bool {
	want := normaliseRole(role)
	if i == nil || want == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, want) })
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext reports false for anonymous requests.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
