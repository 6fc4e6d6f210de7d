package oauth

import "strings"

// recognizedScopes is the full set a client may be granted, in canonical
// order.
var recognizedScopes = []string{
	"recipes:read",
	"recipes:write",
	"shopping:read",
	"shopping:write",
}

var scopeDescriptions = map[string]string{
	"recipes:read":   "View recipes",
	"recipes:write":  "Add and edit recipes",
	"shopping:read":  "View the shopping list",
	"shopping:write": "Add and check off shopping items",
}

// normalizeScope filters a requested scope string down to recognized scopes,
// deduplicated in canonical order. An empty request grants the full set.
func normalizeScope(requested string) string {
	fields := strings.Fields(requested)
	if len(fields) == 0 {
		return strings.Join(recognizedScopes, " ")
	}
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		seen[field] = true
	}
	granted := make([]string, 0, len(recognizedScopes))
	for _, scope := range recognizedScopes {
		if seen[scope] {
			granted = append(granted, scope)
		}
	}
	return strings.Join(granted, " ")
}

// formatScopes renders a granted scope string for the consent page.
func formatScopes(scope string) []string {
	values := strings.Fields(scope)
	formatted := make([]string, 0, len(values))
	for _, value := range values {
		if description, ok := scopeDescriptions[value]; ok {
			formatted = append(formatted, description)
			continue
		}
		formatted = append(formatted, value)
	}
	return formatted
}
