package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/family.recipes/internal/services/mcp/storage"
)

// PutShoppingItem inserts one shopping list entry.
func (s *Store) PutShoppingItem(ctx context.Context, item storage.ShoppingItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("shopping item id is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("shopping item name is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO shopping_items (id, name, quantity, checked, added_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, item.ID, item.Name, item.Quantity, item.Checked, item.AddedBy,
		toMillis(item.CreatedAt), toMillis(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put shopping item: %w", err)
	}
	return nil
}

// GetShoppingItem loads one shopping list entry by id.
func (s *Store) GetShoppingItem(ctx context.Context, itemID string) (storage.ShoppingItem, error) {
	if err := ctx.Err(); err != nil {
		return storage.ShoppingItem{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ShoppingItem{}, fmt.Errorf("storage is not configured")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return storage.ShoppingItem{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, quantity, checked, added_by, created_at, updated_at
FROM shopping_items
WHERE id = ?
`, itemID)
	return scanShoppingItem(row.Scan)
}

// ListShoppingItems lists every entry, unchecked first, then newest first.
func (s *Store) ListShoppingItems(ctx context.Context) ([]storage.ShoppingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, quantity, checked, added_by, created_at, updated_at
FROM shopping_items
ORDER BY checked, created_at DESC, id
`)
	if err != nil {
		return nil, fmt.Errorf("list shopping items: %w", err)
	}
	defer rows.Close()

	var items []storage.ShoppingItem
	for rows.Next() {
		item, err := scanShoppingItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shopping items: %w", err)
	}
	return items, nil
}

// ToggleShoppingItemChecked flips one entry's checked state in a single
// statement so concurrent toggles never read a stale value.
func (s *Store) ToggleShoppingItemChecked(ctx context.Context, itemID string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return storage.ErrNotFound
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE shopping_items
SET checked = NOT checked, updated_at = ?
WHERE id = ?
`, toMillis(updatedAt), itemID)
	if err != nil {
		return fmt.Errorf("toggle shopping item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("toggle shopping item rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanShoppingItem(scan func(dest ...any) error) (storage.ShoppingItem, error) {
	var (
		item      storage.ShoppingItem
		createdAt int64
		updatedAt int64
	)
	if err := scan(&item.ID, &item.Name, &item.Quantity, &item.Checked,
		&item.AddedBy, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ShoppingItem{}, storage.ErrNotFound
		}
		return storage.ShoppingItem{}, fmt.Errorf("scan shopping item: %w", err)
	}
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return item, nil
}
