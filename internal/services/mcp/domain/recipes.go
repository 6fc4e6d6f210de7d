package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/family.recipes/internal/platform/id"
	"github.com/louisbranch/family.recipes/internal/services/mcp/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RecipeListInput represents the MCP tool input for listing recipes.
type RecipeListInput struct{}

// RecipeSummary is one recipe entry in a listing.
type RecipeSummary struct {
	ID        string   `json:"id" jsonschema:"recipe identifier"`
	Title     string   `json:"title" jsonschema:"recipe title"`
	Tags      []string `json:"tags,omitempty" jsonschema:"free-form recipe tags"`
	UpdatedAt string   `json:"updated_at" jsonschema:"RFC3339 timestamp of the last change"`
}

// RecipeListResult represents the MCP tool output for listing recipes.
type RecipeListResult struct {
	Recipes []RecipeSummary `json:"recipes" jsonschema:"recipes, most recently updated first"`
}

// RecipeListTool defines the MCP tool schema for listing recipes.
func RecipeListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "recipe_list",
		Description: "Lists every recipe with title and tags, most recently updated first.",
	}
}

// RecipeListHandler executes a recipe listing request.
func RecipeListHandler(recipes storage.RecipeStore) mcp.ToolHandlerFor[RecipeListInput, RecipeListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ RecipeListInput) (*mcp.CallToolResult, RecipeListResult, error) {
		if recipes == nil {
			return nil, RecipeListResult{}, fmt.Errorf("recipe store is not configured")
		}

		listed, err := recipes.ListRecipes(ctx)
		if err != nil {
			return nil, RecipeListResult{}, fmt.Errorf("recipe list failed: %w", err)
		}

		result := RecipeListResult{Recipes: []RecipeSummary{}}
		for _, recipe := range listed {
			result.Recipes = append(result.Recipes, RecipeSummary{
				ID:        recipe.ID,
				Title:     recipe.Title,
				Tags:      recipe.Tags,
				UpdatedAt: formatTimestamp(recipe.UpdatedAt),
			})
		}
		return nil, result, nil
	}
}

// RecipeGetInput represents the MCP tool input for reading one recipe.
type RecipeGetInput struct {
	RecipeID string `json:"recipe_id" jsonschema:"recipe identifier"`
}

// RecipeGetResult represents the MCP tool output for reading one recipe.
type RecipeGetResult struct {
	ID        string   `json:"id" jsonschema:"recipe identifier"`
	Title     string   `json:"title" jsonschema:"recipe title"`
	Markup    string   `json:"markup" jsonschema:"recipe body in free-form markup"`
	Tags      []string `json:"tags,omitempty" jsonschema:"free-form recipe tags"`
	CreatedBy string   `json:"created_by" jsonschema:"user id of the author"`
	CreatedAt string   `json:"created_at" jsonschema:"RFC3339 timestamp of creation"`
	UpdatedAt string   `json:"updated_at" jsonschema:"RFC3339 timestamp of the last change"`
}

// RecipeGetTool defines the MCP tool schema for reading one recipe.
func RecipeGetTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "recipe_get",
		Description: "Reads one recipe in full, including its markup body.",
	}
}

// RecipeGetHandler executes a recipe read request.
func RecipeGetHandler(recipes storage.RecipeStore) mcp.ToolHandlerFor[RecipeGetInput, RecipeGetResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RecipeGetInput) (*mcp.CallToolResult, RecipeGetResult, error) {
		if recipes == nil {
			return nil, RecipeGetResult{}, fmt.Errorf("recipe store is not configured")
		}
		recipeID := strings.TrimSpace(input.RecipeID)
		if recipeID == "" {
			return nil, RecipeGetResult{}, fmt.Errorf("recipe_id is required")
		}

		recipe, err := recipes.GetRecipe(ctx, recipeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, RecipeGetResult{}, fmt.Errorf("recipe %q was not found", recipeID)
			}
			return nil, RecipeGetResult{}, fmt.Errorf("recipe get failed: %w", err)
		}

		return nil, recipeGetResultFrom(recipe), nil
	}
}

// RecipeCreateInput represents the MCP tool input for creating a recipe.
type RecipeCreateInput struct {
	Title  string   `json:"title" jsonschema:"recipe title"`
	Markup string   `json:"markup,omitempty" jsonschema:"recipe body in free-form markup"`
	Tags   []string `json:"tags,omitempty" jsonschema:"free-form recipe tags"`
}

// RecipeCreateResult represents the MCP tool output for creating a recipe.
type RecipeCreateResult struct {
	ID        string   `json:"id" jsonschema:"recipe identifier"`
	Title     string   `json:"title" jsonschema:"recipe title"`
	Markup    string   `json:"markup" jsonschema:"recipe body in free-form markup"`
	Tags      []string `json:"tags,omitempty" jsonschema:"free-form recipe tags"`
	CreatedBy string   `json:"created_by" jsonschema:"user id of the author"`
	CreatedAt string   `json:"created_at" jsonschema:"RFC3339 timestamp of creation"`
}

// RecipeCreateTool defines the MCP tool schema for creating a recipe.
func RecipeCreateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "recipe_create",
		Description: "Creates a recipe from a title, optional markup body, and optional tags.",
	}
}

// RecipeCreateHandler executes a recipe creation request.
func RecipeCreateHandler(recipes storage.RecipeStore, now func() time.Time) mcp.ToolHandlerFor[RecipeCreateInput, RecipeCreateResult] {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RecipeCreateInput) (*mcp.CallToolResult, RecipeCreateResult, error) {
		if recipes == nil {
			return nil, RecipeCreateResult{}, fmt.Errorf("recipe store is not configured")
		}
		grant, ok := GrantFromContext(ctx)
		if !ok {
			return nil, RecipeCreateResult{}, fmt.Errorf("caller identity is missing")
		}
		title := strings.TrimSpace(input.Title)
		if title == "" {
			return nil, RecipeCreateResult{}, fmt.Errorf("title is required")
		}

		recipeID, err := id.NewID()
		if err != nil {
			return nil, RecipeCreateResult{}, fmt.Errorf("generate recipe id: %w", err)
		}
		at := now().UTC()
		recipe := storage.Recipe{
			ID:        recipeID,
			Title:     title,
			Markup:    input.Markup,
			Tags:      normalizeTags(input.Tags),
			CreatedBy: grant.UserID,
			CreatedAt: at,
			UpdatedAt: at,
		}
		if err := recipes.PutRecipe(ctx, recipe); err != nil {
			return nil, RecipeCreateResult{}, fmt.Errorf("recipe create failed: %w", err)
		}

		return nil, RecipeCreateResult{
			ID:        recipe.ID,
			Title:     recipe.Title,
			Markup:    recipe.Markup,
			Tags:      recipe.Tags,
			CreatedBy: recipe.CreatedBy,
			CreatedAt: formatTimestamp(recipe.CreatedAt),
		}, nil
	}
}

// RecipeUpdateInput represents the MCP tool input for updating a recipe.
// Empty title and markup leave the stored values unchanged; a non-nil tags
// list replaces the stored tags, so an empty list clears them.
type RecipeUpdateInput struct {
	RecipeID string   `json:"recipe_id" jsonschema:"recipe identifier"`
	Title    string   `json:"title,omitempty" jsonschema:"replacement title, unchanged when omitted"`
	Markup   string   `json:"markup,omitempty" jsonschema:"replacement markup body, unchanged when omitted"`
	Tags     []string `json:"tags,omitempty" jsonschema:"replacement tags, unchanged when omitted"`
}

// RecipeUpdateResult represents the MCP tool output for updating a recipe.
type RecipeUpdateResult struct {
	ID        string   `json:"id" jsonschema:"recipe identifier"`
	Title     string   `json:"title" jsonschema:"recipe title"`
	Markup    string   `json:"markup" jsonschema:"recipe body in free-form markup"`
	Tags      []string `json:"tags,omitempty" jsonschema:"free-form recipe tags"`
	UpdatedAt string   `json:"updated_at" jsonschema:"RFC3339 timestamp of this change"`
}

// RecipeUpdateTool defines the MCP tool schema for updating a recipe.
func RecipeUpdateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "recipe_update",
		Description: "Updates a recipe's title, markup body, or tags. Omitted fields stay unchanged.",
	}
}

// RecipeUpdateHandler executes a recipe update request.
func RecipeUpdateHandler(recipes storage.RecipeStore, now func() time.Time) mcp.ToolHandlerFor[RecipeUpdateInput, RecipeUpdateResult] {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RecipeUpdateInput) (*mcp.CallToolResult, RecipeUpdateResult, error) {
		if recipes == nil {
			return nil, RecipeUpdateResult{}, fmt.Errorf("recipe store is not configured")
		}
		recipeID := strings.TrimSpace(input.RecipeID)
		if recipeID == "" {
			return nil, RecipeUpdateResult{}, fmt.Errorf("recipe_id is required")
		}

		recipe, err := recipes.GetRecipe(ctx, recipeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, RecipeUpdateResult{}, fmt.Errorf("recipe %q was not found", recipeID)
			}
			return nil, RecipeUpdateResult{}, fmt.Errorf("recipe update failed: %w", err)
		}

		if title := strings.TrimSpace(input.Title); title != "" {
			recipe.Title = title
		}
		if input.Markup != "" {
			recipe.Markup = input.Markup
		}
		if input.Tags != nil {
			recipe.Tags = normalizeTags(input.Tags)
		}
		recipe.UpdatedAt = now().UTC()

		if err := recipes.UpdateRecipe(ctx, recipe); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, RecipeUpdateResult{}, fmt.Errorf("recipe %q was not found", recipeID)
			}
			return nil, RecipeUpdateResult{}, fmt.Errorf("recipe update failed: %w", err)
		}

		return nil, RecipeUpdateResult{
			ID:        recipe.ID,
			Title:     recipe.Title,
			Markup:    recipe.Markup,
			Tags:      recipe.Tags,
			UpdatedAt: formatTimestamp(recipe.UpdatedAt),
		}, nil
	}
}

func recipeGetResultFrom(recipe storage.Recipe) RecipeGetResult {
	return RecipeGetResult{
		ID:        recipe.ID,
		Title:     recipe.Title,
		Markup:    recipe.Markup,
		Tags:      recipe.Tags,
		CreatedBy: recipe.CreatedBy,
		CreatedAt: formatTimestamp(recipe.CreatedAt),
		UpdatedAt: formatTimestamp(recipe.UpdatedAt),
	}
}

// normalizeTags trims entries and drops blanks, keeping order.
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

// formatTimestamp renders a storage timestamp for MCP clients.
func formatTimestamp(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}
