// Package branding centralizes user-visible product naming so services and
// templates agree on one spelling.
package branding

// AppName is the product name shown on every user-facing surface.
const AppName = "Family Recipes"
