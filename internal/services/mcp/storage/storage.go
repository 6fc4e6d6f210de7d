package storage

import (
	"context"
	"time"

	"github.com/louisbranch/family.recipes/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Recipe is one stored recipe. Markup is kept verbatim.
type Recipe struct {
	ID        string
	Title     string
	Markup    string
	Tags      []string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShoppingItem is one shopping list entry. Quantity is free text.
type ShoppingItem struct {
	ID        string
	Name      string
	Quantity  string
	Checked   bool
	AddedBy   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecipeStore persists recipe records.
type RecipeStore interface {
	PutRecipe(ctx context.Context, recipe Recipe) error
	GetRecipe(ctx context.Context, recipeID string) (Recipe, error)
	ListRecipes(ctx context.Context) ([]Recipe, error)
	UpdateRecipe(ctx context.Context, recipe Recipe) error
}

// ShoppingStore persists shopping list entries.
type ShoppingStore interface {
	PutShoppingItem(ctx context.Context, item ShoppingItem) error
	GetShoppingItem(ctx context.Context, itemID string) (ShoppingItem, error)
	ListShoppingItems(ctx context.Context) ([]ShoppingItem, error)
	ToggleShoppingItemChecked(ctx context.Context, itemID string, updatedAt time.Time) error
}
