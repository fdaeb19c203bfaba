package models

// CartItem represents a single line in the customer's cart. MenuItemID is the
// unique key within a cart; quantities merge on repeated adds.
type CartItem struct {
	MenuItemID          string  `json:"menuItemId"`
	Name                string  `json:"name"`
	Price               float64 `json:"price"`
	Quantity            int     `json:"quantity"`
	RestaurantID        string  `json:"restaurantId"`
	RestaurantName      string  `json:"restaurantName"`
	Image               string  `json:"image,omitempty"`
	SpecialInstructions string  `json:"specialInstructions,omitempty"`
	IsAvailable         bool    `json:"isAvailable"`
}

// MenuItem is the authoritative menu entry the cart is reconciled against.
type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	IsAvailable bool    `json:"isAvailable"`
}

// PriceChange reports a cart line whose menu price drifted since it was added.
type PriceChange struct {
	Name     string  `json:"name"`
	OldPrice float64 `json:"oldPrice"`
	NewPrice float64 `json:"newPrice"`
}

// CartValidationResult is the outcome of comparing the cart against a menu
// snapshot. Price changes alone do not invalidate the cart.
type CartValidationResult struct {
	Valid             bool          `json:"valid"`
	UnavailableItems  []string      `json:"unavailableItems"`
	PriceChangedItems []PriceChange `json:"priceChangedItems"`
	RemovedItems      []string      `json:"removedItems"`
}
