package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/family.recipes/internal/services/mcp/storage"
)

func seedShoppingItem(t *testing.T, store *Store, id, name string, checked bool, createdAt time.Time) storage.ShoppingItem {
	t.Helper()

	item := storage.ShoppingItem{
		ID:        id,
		Name:      name,
		Quantity:  "1",
		Checked:   checked,
		AddedBy:   "user-1",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := store.PutShoppingItem(context.Background(), item); err != nil {
		t.Fatalf("PutShoppingItem(%q) error: %v", id, err)
	}
	return item
}

func TestPutShoppingItemRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created := storage.ShoppingItem{
		ID:        "item-1",
		Name:      "Carrots",
		Quantity:  "2 lbs",
		AddedBy:   "user-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.PutShoppingItem(ctx, created); err != nil {
		t.Fatalf("PutShoppingItem error: %v", err)
	}

	got, err := store.GetShoppingItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetShoppingItem error: %v", err)
	}
	if got.Name != "Carrots" || got.Quantity != "2 lbs" {
		t.Errorf("item = %q/%q, want Carrots/2 lbs", got.Name, got.Quantity)
	}
	if got.Checked {
		t.Error("new item should start unchecked")
	}
	if got.AddedBy != "user-1" {
		t.Errorf("added by = %q, want %q", got.AddedBy, "user-1")
	}
}

func TestPutShoppingItemValidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.PutShoppingItem(ctx, storage.ShoppingItem{Name: "No ID", CreatedAt: now, UpdatedAt: now}); err == nil {
		t.Error("PutShoppingItem without id should fail")
	}
	if err := store.PutShoppingItem(ctx, storage.ShoppingItem{ID: "item-1", CreatedAt: now, UpdatedAt: now}); err == nil {
		t.Error("PutShoppingItem without name should fail")
	}
}

func TestGetShoppingItemMissing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetShoppingItem(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetShoppingItem missing error = %v, want ErrNotFound", err)
	}
}

func TestListShoppingItemsOrdersUncheckedFirst(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedShoppingItem(t, store, "item-done", "Flour", true, now)
	seedShoppingItem(t, store, "item-old", "Eggs", false, now.Add(-time.Hour))
	seedShoppingItem(t, store, "item-new", "Milk", false, now)

	items, err := store.ListShoppingItems(context.Background())
	if err != nil {
		t.Fatalf("ListShoppingItems error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("listed %d items, want 3", len(items))
	}
	wantOrder := []string{"item-new", "item-old", "item-done"}
	for i, want := range wantOrder {
		if items[i].ID != want {
			t.Errorf("items[%d] = %q, want %q", i, items[i].ID, want)
		}
	}
}

func TestToggleShoppingItemChecked(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("flips both ways", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()
		seedShoppingItem(t, store, "item-1", "Milk", false, now)

		if err := store.ToggleShoppingItemChecked(ctx, "item-1", now.Add(time.Minute)); err != nil {
			t.Fatalf("ToggleShoppingItemChecked error: %v", err)
		}
		got, err := store.GetShoppingItem(ctx, "item-1")
		if err != nil {
			t.Fatalf("GetShoppingItem error: %v", err)
		}
		if !got.Checked {
			t.Error("item should be checked after first toggle")
		}
		if !got.UpdatedAt.Equal(now.Add(time.Minute)) {
			t.Errorf("updated at = %v, want %v", got.UpdatedAt, now.Add(time.Minute))
		}

		if err := store.ToggleShoppingItemChecked(ctx, "item-1", now.Add(2*time.Minute)); err != nil {
			t.Fatalf("second toggle error: %v", err)
		}
		got, err = store.GetShoppingItem(ctx, "item-1")
		if err != nil {
			t.Fatalf("GetShoppingItem error: %v", err)
		}
		if got.Checked {
			t.Error("item should be unchecked after second toggle")
		}
	})

	t.Run("missing item", func(t *testing.T) {
		store := newTestStore(t)

		err := store.ToggleShoppingItemChecked(context.Background(), "ghost", now)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("toggle missing error = %v, want ErrNotFound", err)
		}
	})
}
