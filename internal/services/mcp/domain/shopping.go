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

// ShoppingListInput represents the MCP tool input for listing shopping items.
type ShoppingListInput struct{}

// ShoppingItemView is one shopping list entry in a listing.
type ShoppingItemView struct {
	ID        string `json:"id" jsonschema:"shopping item identifier"`
	Name      string `json:"name" jsonschema:"item name"`
	Quantity  string `json:"quantity,omitempty" jsonschema:"free-text quantity, e.g. 2 lbs"`
	Checked   bool   `json:"checked" jsonschema:"whether the item has been picked up"`
	AddedBy   string `json:"added_by" jsonschema:"user id of who added the item"`
	UpdatedAt string `json:"updated_at" jsonschema:"RFC3339 timestamp of the last change"`
}

// ShoppingListResult represents the MCP tool output for listing shopping items.
type ShoppingListResult struct {
	Items []ShoppingItemView `json:"items" jsonschema:"shopping list entries, unchecked first"`
}

// ShoppingListTool defines the MCP tool schema for listing shopping items.
func ShoppingListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "shopping_list",
		Description: "Lists the shared shopping list, unchecked items first.",
	}
}

// ShoppingListHandler executes a shopping list read request.
func ShoppingListHandler(shopping storage.ShoppingStore) mcp.ToolHandlerFor[ShoppingListInput, ShoppingListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ShoppingListInput) (*mcp.CallToolResult, ShoppingListResult, error) {
		if shopping == nil {
			return nil, ShoppingListResult{}, fmt.Errorf("shopping store is not configured")
		}

		listed, err := shopping.ListShoppingItems(ctx)
		if err != nil {
			return nil, ShoppingListResult{}, fmt.Errorf("shopping list failed: %w", err)
		}

		result := ShoppingListResult{Items: []ShoppingItemView{}}
		for _, item := range listed {
			result.Items = append(result.Items, shoppingItemViewFrom(item))
		}
		return nil, result, nil
	}
}

// ShoppingAddInput represents the MCP tool input for adding a shopping item.
type ShoppingAddInput struct {
	Name     string `json:"name" jsonschema:"item name"`
	Quantity string `json:"quantity,omitempty" jsonschema:"optional free-text quantity, e.g. 2 lbs"`
}

// ShoppingAddResult represents the MCP tool output for adding a shopping item.
type ShoppingAddResult struct {
	ID        string `json:"id" jsonschema:"shopping item identifier"`
	Name      string `json:"name" jsonschema:"item name"`
	Quantity  string `json:"quantity,omitempty" jsonschema:"free-text quantity"`
	Checked   bool   `json:"checked" jsonschema:"whether the item has been picked up"`
	AddedBy   string `json:"added_by" jsonschema:"user id of who added the item"`
	CreatedAt string `json:"created_at" jsonschema:"RFC3339 timestamp of creation"`
}

// ShoppingAddTool defines the MCP tool schema for adding a shopping item.
func ShoppingAddTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "shopping_add",
		Description: "Adds an item to the shared shopping list.",
	}
}

// ShoppingAddHandler executes a shopping add request.
func ShoppingAddHandler(shopping storage.ShoppingStore, now func() time.Time) mcp.ToolHandlerFor[ShoppingAddInput, ShoppingAddResult] {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ShoppingAddInput) (*mcp.CallToolResult, ShoppingAddResult, error) {
		if shopping == nil {
			return nil, ShoppingAddResult{}, fmt.Errorf("shopping store is not configured")
		}
		grant, ok := GrantFromContext(ctx)
		if !ok {
			return nil, ShoppingAddResult{}, fmt.Errorf("caller identity is missing")
		}
		name := strings.TrimSpace(input.Name)
		if name == "" {
			return nil, ShoppingAddResult{}, fmt.Errorf("name is required")
		}

		itemID, err := id.NewID()
		if err != nil {
			return nil, ShoppingAddResult{}, fmt.Errorf("generate item id: %w", err)
		}
		at := now().UTC()
		item := storage.ShoppingItem{
			ID:        itemID,
			Name:      name,
			Quantity:  strings.TrimSpace(input.Quantity),
			AddedBy:   grant.UserID,
			CreatedAt: at,
			UpdatedAt: at,
		}
		if err := shopping.PutShoppingItem(ctx, item); err != nil {
			return nil, ShoppingAddResult{}, fmt.Errorf("shopping add failed: %w", err)
		}

		return nil, ShoppingAddResult{
			ID:        item.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Checked:   item.Checked,
			AddedBy:   item.AddedBy,
			CreatedAt: formatTimestamp(item.CreatedAt),
		}, nil
	}
}

// ShoppingToggleInput represents the MCP tool input for toggling an item.
type ShoppingToggleInput struct {
	ItemID string `json:"item_id" jsonschema:"shopping item identifier"`
}

// ShoppingToggleResult represents the MCP tool output for toggling an item.
type ShoppingToggleResult struct {
	ID        string `json:"id" jsonschema:"shopping item identifier"`
	Name      string `json:"name" jsonschema:"item name"`
	Checked   bool   `json:"checked" jsonschema:"the item's state after the toggle"`
	UpdatedAt string `json:"updated_at" jsonschema:"RFC3339 timestamp of this change"`
}

// ShoppingToggleTool defines the MCP tool schema for toggling an item.
func ShoppingToggleTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "shopping_toggle",
		Description: "Flips a shopping item between checked and unchecked.",
	}
}

// ShoppingToggleHandler executes a shopping toggle request.
func ShoppingToggleHandler(shopping storage.ShoppingStore, now func() time.Time) mcp.ToolHandlerFor[ShoppingToggleInput, ShoppingToggleResult] {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ShoppingToggleInput) (*mcp.CallToolResult, ShoppingToggleResult, error) {
		if shopping == nil {
			return nil, ShoppingToggleResult{}, fmt.Errorf("shopping store is not configured")
		}
		itemID := strings.TrimSpace(input.ItemID)
		if itemID == "" {
			return nil, ShoppingToggleResult{}, fmt.Errorf("item_id is required")
		}

		if err := shopping.ToggleShoppingItemChecked(ctx, itemID, now().UTC()); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ShoppingToggleResult{}, fmt.Errorf("shopping item %q was not found", itemID)
			}
			return nil, ShoppingToggleResult{}, fmt.Errorf("shopping toggle failed: %w", err)
		}

		item, err := shopping.GetShoppingItem(ctx, itemID)
		if err != nil {
			return nil, ShoppingToggleResult{}, fmt.Errorf("read toggled item: %w", err)
		}

		return nil, ShoppingToggleResult{
			ID:        item.ID,
			Name:      item.Name,
			Checked:   item.Checked,
			UpdatedAt: formatTimestamp(item.UpdatedAt),
		}, nil
	}
}

func shoppingItemViewFrom(item storage.ShoppingItem) ShoppingItemView {
	return ShoppingItemView{
		ID:        item.ID,
		Name:      item.Name,
		Quantity:  item.Quantity,
		Checked:   item.Checked,
		AddedBy:   item.AddedBy,
		UpdatedAt: formatTimestamp(item.UpdatedAt),
	}
}
