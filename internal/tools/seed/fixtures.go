package seed

import (
	"time"

	authstorage "github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
	mcpstorage "github.com/louisbranch/family.recipes/internal/services/mcp/storage"
)

// seededBy marks fixture rows; no real user exists before first sign-in.
const seededBy = "seed"

// allowlistFixtures is the development sign-in roster. InvitedBy stays empty
// because invitations reference user ids and users only exist after their
// first sign-in.
func allowlistFixtures(owner string, now time.Time) []authstorage.AllowedEmail {
	return []authstorage.AllowedEmail{
		{Email: owner, Role: user.RoleOwner, CreatedAt: now},
		{Email: "grandma@family.test", Role: user.RoleFamily, CreatedAt: now},
		{Email: "neighbor@family.test", Role: user.RoleFriend, CreatedAt: now},
	}
}

func recipeFixtures(now time.Time) []mcpstorage.Recipe {
	return []mcpstorage.Recipe{
		{
			ID:    "seed-pancakes",
			Title: "Saturday Pancakes",
			Markup: "## Ingredients\n" +
				"- 2 cups flour\n" +
				"- 2 eggs\n" +
				"- 1 1/2 cups milk\n" +
				"- 1 tbsp baking powder\n\n" +
				"## Steps\n" +
				"1. Whisk the dry ingredients together.\n" +
				"2. Fold in the eggs and milk until just combined.\n" +
				"3. Cook on a hot griddle until bubbles form, then flip.\n",
			Tags:      []string{"breakfast", "kid-friendly"},
			CreatedBy: seededBy,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:    "seed-minestrone",
			Title: "Grandma's Minestrone",
			Markup: "## Ingredients\n" +
				"- 2 carrots, diced\n" +
				"- 2 celery stalks, diced\n" +
				"- 1 can crushed tomatoes\n" +
				"- 1 can cannellini beans\n" +
				"- 1 cup small pasta\n\n" +
				"## Steps\n" +
				"1. Sweat the carrots and celery in olive oil.\n" +
				"2. Add tomatoes, beans, and 6 cups of water. Simmer 30 minutes.\n" +
				"3. Add the pasta and cook until tender. Salt to taste.\n",
			Tags:      []string{"dinner", "soup", "vegetarian"},
			CreatedBy: seededBy,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:    "seed-banana-bread",
			Title: "Banana Bread",
			Markup: "## Ingredients\n" +
				"- 3 ripe bananas, mashed\n" +
				"- 1/3 cup melted butter\n" +
				"- 3/4 cup sugar\n" +
				"- 1 egg\n" +
				"- 1 1/2 cups flour\n\n" +
				"## Steps\n" +
				"1. Mix the bananas, butter, sugar, and egg.\n" +
				"2. Fold in the flour with a pinch of salt and baking soda.\n" +
				"3. Bake at 350F for 55 minutes.\n",
			Tags:      []string{"baking", "snack"},
			CreatedBy: seededBy,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func shoppingFixtures(now time.Time) []mcpstorage.ShoppingItem {
	return []mcpstorage.ShoppingItem{
		{
			ID:        "seed-flour",
			Name:      "All-purpose flour",
			Quantity:  "2 kg",
			AddedBy:   seededBy,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:        "seed-maple-syrup",
			Name:      "Maple syrup",
			Quantity:  "1 bottle",
			AddedBy:   seededBy,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
