package seed

import (
	"context"

	authstorage "github.com/louisbranch/family.recipes/internal/services/auth/storage"
	mcpstorage "github.com/louisbranch/family.recipes/internal/services/mcp/storage"
)

// allowlistStore is the slice of the auth store the seeder needs.
type allowlistStore interface {
	PutAllowedEmail(ctx context.Context, entry authstorage.AllowedEmail) error
	Close() error
}

// recipeStore is the slice of the MCP store the seeder needs. Reads guard
// against re-inserting rows a previous run already created.
type recipeStore interface {
	GetRecipe(ctx context.Context, recipeID string) (mcpstorage.Recipe, error)
	PutRecipe(ctx context.Context, recipe mcpstorage.Recipe) error
	GetShoppingItem(ctx context.Context, itemID string) (mcpstorage.ShoppingItem, error)
	PutShoppingItem(ctx context.Context, item mcpstorage.ShoppingItem) error
	Close() error
}
