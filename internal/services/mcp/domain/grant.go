package domain

import (
	"context"
	"strings"
)

// Grant is the verified access-token payload a request carries once the
// transport has checked the bearer token.
type Grant struct {
	UserID   string
	ClientID string
	Scopes   []string
}

type grantContextKey struct{}

// WithGrant returns a context carrying the verified grant.
func WithGrant(ctx context.Context, grant Grant) context.Context {
	return context.WithValue(ctx, grantContextKey{}, grant)
}

// GrantFromContext returns the grant stashed by the transport, if any.
func GrantFromContext(ctx context.Context) (Grant, bool) {
	if ctx == nil {
		return Grant{}, false
	}
	grant, ok := ctx.Value(grantContextKey{}).(Grant)
	return grant, ok
}

// ParseScopes splits a space-separated scope string into its entries.
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
