package domain

import (
	"fmt"

	"github.com/louisbranch/family.recipes/internal/platform/errors"
)

// requiredScopes maps each tool to the scope that unlocks it.
var requiredScopes = map[string]string{
	"recipe_list":     "recipes:read",
	"recipe_get":      "recipes:read",
	"recipe_create":   "recipes:write",
	"recipe_update":   "recipes:write",
	"shopping_list":   "shopping:read",
	"shopping_add":    "shopping:write",
	"shopping_toggle": "shopping:write",
}

// RequiredScope returns the scope a tool demands.
func RequiredScope(tool string) (string, bool) {
	scope, ok := requiredScopes[tool]
	return scope, ok
}

// Authorize reports whether the granted scopes cover the named tool.
//
// A tool absent from the table is denied: an unmapped name means nobody
// decided it is safe to expose.
func Authorize(scopes []string, tool string) error {
	required, ok := requiredScopes[tool]
	if !ok {
		return errors.New(errors.CodePermissionDenied, fmt.Sprintf("tool %q is not permitted", tool))
	}
	for _, scope := range scopes {
		if scope == required {
			return nil
		}
	}
	return errors.New(errors.CodeScopeInsufficient, fmt.Sprintf("tool %q requires scope %q", tool, required))
}
