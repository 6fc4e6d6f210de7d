package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/family.recipes/internal/services/mcp/storage"
)

// PutRecipe inserts one recipe record.
func (s *Store) PutRecipe(ctx context.Context, recipe storage.Recipe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(recipe.ID) == "" {
		return fmt.Errorf("recipe id is required")
	}
	if strings.TrimSpace(recipe.Title) == "" {
		return fmt.Errorf("recipe title is required")
	}
	tags, err := marshalTags(recipe.Tags)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO recipes (id, title, markup, tags, created_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, recipe.ID, recipe.Title, recipe.Markup, tags, recipe.CreatedBy,
		toMillis(recipe.CreatedAt), toMillis(recipe.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put recipe: %w", err)
	}
	return nil
}

// GetRecipe loads one recipe by id.
func (s *Store) GetRecipe(ctx context.Context, recipeID string) (storage.Recipe, error) {
	if err := ctx.Err(); err != nil {
		return storage.Recipe{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Recipe{}, fmt.Errorf("storage is not configured")
	}
	recipeID = strings.TrimSpace(recipeID)
	if recipeID == "" {
		return storage.Recipe{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, title, markup, tags, created_by, created_at, updated_at
FROM recipes
WHERE id = ?
`, recipeID)
	return scanRecipe(row.Scan)
}

// ListRecipes lists every recipe, most recently updated first.
func (s *Store) ListRecipes(ctx context.Context) ([]storage.Recipe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, title, markup, tags, created_by, created_at, updated_at
FROM recipes
ORDER BY updated_at DESC, id
`)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []storage.Recipe
	for rows.Next() {
		recipe, err := scanRecipe(rows.Scan)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipes: %w", err)
	}
	return recipes, nil
}

// UpdateRecipe replaces the mutable fields of one recipe.
func (s *Store) UpdateRecipe(ctx context.Context, recipe storage.Recipe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	recipeID := strings.TrimSpace(recipe.ID)
	if recipeID == "" {
		return storage.ErrNotFound
	}
	if strings.TrimSpace(recipe.Title) == "" {
		return fmt.Errorf("recipe title is required")
	}
	tags, err := marshalTags(recipe.Tags)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE recipes
SET title = ?, markup = ?, tags = ?, updated_at = ?
WHERE id = ?
`, recipe.Title, recipe.Markup, tags, toMillis(recipe.UpdatedAt), recipeID)
	if err != nil {
		return fmt.Errorf("update recipe: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update recipe rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanRecipe(scan func(dest ...any) error) (storage.Recipe, error) {
	var (
		recipe    storage.Recipe
		tags      string
		createdAt int64
		updatedAt int64
	)
	if err := scan(&recipe.ID, &recipe.Title, &recipe.Markup, &tags,
		&recipe.CreatedBy, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Recipe{}, storage.ErrNotFound
		}
		return storage.Recipe{}, fmt.Errorf("scan recipe: %w", err)
	}
	parsed, err := unmarshalTags(tags)
	if err != nil {
		return storage.Recipe{}, err
	}
	recipe.Tags = parsed
	recipe.CreatedAt = fromMillis(createdAt)
	recipe.UpdatedAt = fromMillis(updatedAt)
	return recipe, nil
}
