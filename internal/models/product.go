package models

// Product kinds as reported by the storefront catalog.
const (
	ProductKindSubscription  = "subscription"
	ProductKindConsumable    = "consumable"
	ProductKindNonConsumable = "nonconsumable"
)

// Product is a storefront catalog entry. Externally sourced and read-only;
// the engine never edits pricing or display fields.
type Product struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	PriceString string `json:"price_string"`
	Kind        string `json:"kind"`
}
