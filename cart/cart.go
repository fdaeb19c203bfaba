package cart

import (
	"sync"

	"mealflow/logger"
	"mealflow/models"
)

// Persister serializes cart state on change and hydrates it on startup. The
// store's transition logic never touches storage directly so it can be tested
// without a backend.
type Persister interface {
	SaveCart(items []models.CartItem) error
	LoadCart() ([]models.CartItem, error)
}

// Store maintains a consistent single-restaurant cart and reconciles it
// against authoritative menu data. A non-empty cart is bound to exactly one
// restaurant; adding an item from another restaurant replaces the cart.
type Store struct {
	mu           sync.RWMutex
	items        []models.CartItem
	restaurantID string
	persister    Persister
	log          *logger.Log
}

// NewStore creates a cart store, hydrating from the persister when one is
// provided.
func NewStore(persister Persister) *Store {
	s := &Store{
		persister: persister,
		log:       logger.GetLogger(),
	}

	if persister != nil {
		items, err := persister.LoadCart()
		if err != nil {
			s.log.WithComponent("cart").WithError(err).Warn("failed to hydrate persisted cart")
		} else if len(items) > 0 {
			s.items = items
			s.restaurantID = items[0].RestaurantID
		}
	}
	return s
}

// AddToCart adds an item, merging quantities for an existing line. An item
// from a different restaurant than the current cart discards the cart and
// starts over with just the new item; warning the user is a UI concern.
func (s *Store) AddToCart(item models.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) > 0 && s.restaurantID != item.RestaurantID {
		s.log.WithComponent("cart").WithFields(logger.Fields{
			"previous_restaurant": s.restaurantID,
			"new_restaurant":      item.RestaurantID,
		}).Info("cart replaced by item from another restaurant")
		s.items = nil
	}

	s.restaurantID = item.RestaurantID

	merged := false
	for i := range s.items {
		if s.items[i].MenuItemID == item.MenuItemID {
			s.items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		s.items = append(s.items, item)
	}

	s.persist()
}

// RemoveFromCart drops the line with the given menu item id. Removing the
// last line clears the restaurant affinity.
func (s *Store) RemoveFromCart(menuItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(menuItemID)
	s.persist()
}

// UpdateQuantity sets a line's quantity. Zero or negative is removal.
func (s *Store) UpdateQuantity(menuItemID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity <= 0 {
		s.removeLocked(menuItemID)
		s.persist()
		return
	}

	for i := range s.items {
		if s.items[i].MenuItemID == menuItemID {
			s.items[i].Quantity = quantity
			break
		}
	}
	s.persist()
}

func (s *Store) removeLocked(menuItemID string) {
	kept := s.items[:0]
	for _, item := range s.items {
		if item.MenuItemID != menuItemID {
			kept = append(kept, item)
		}
	}
	s.items = kept
	if len(s.items) == 0 {
		s.restaurantID = ""
	}
}

// ValidateCart compares the cart against a menu snapshot without mutating
// anything. Per line: absent from the menu is removed, present but
// unavailable is unavailable, and a differing price is reported as drift.
// Only unavailable and removed items invalidate the cart; checkout may
// proceed through price drift with the new price.
func (s *Store) ValidateCart(menu []models.MenuItem) models.CartValidationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return validate(s.items, menu)
}

func validate(items []models.CartItem, menu []models.MenuItem) models.CartValidationResult {
	byID := make(map[string]models.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	result := models.CartValidationResult{
		UnavailableItems:  []string{},
		PriceChangedItems: []models.PriceChange{},
		RemovedItems:      []string{},
	}

	for _, item := range items {
		entry, ok := byID[item.MenuItemID]
		switch {
		case !ok:
			result.RemovedItems = append(result.RemovedItems, item.Name)
		case !entry.IsAvailable:
			result.UnavailableItems = append(result.UnavailableItems, item.Name)
		case entry.Price != item.Price:
			result.PriceChangedItems = append(result.PriceChangedItems, models.PriceChange{
				Name:     item.Name,
				OldPrice: item.Price,
				NewPrice: entry.Price,
			})
		}
	}

	result.Valid = len(result.UnavailableItems) == 0 && len(result.RemovedItems) == 0
	return result
}

// SyncWithMenu reconciles the cart against the menu and commits the result:
// only present-and-available lines survive, with updated prices applied.
// Dropped lines are still reported in the returned result for UI messaging.
func (s *Store) SyncWithMenu(menu []models.MenuItem) models.CartValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := validate(s.items, menu)

	byID := make(map[string]models.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	kept := make([]models.CartItem, 0, len(s.items))
	for _, item := range s.items {
		entry, ok := byID[item.MenuItemID]
		if !ok || !entry.IsAvailable {
			continue
		}
		item.Price = entry.Price
		item.IsAvailable = true
		kept = append(kept, item)
	}
	s.items = kept
	if len(s.items) == 0 {
		s.restaurantID = ""
	}

	s.persist()
	return result
}

// RemoveUnavailableItems drops lines that are absent or unavailable, updates
// prices for survivors, and returns the names of the dropped lines.
func (s *Store) RemoveUnavailableItems(menu []models.MenuItem) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]models.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	dropped := []string{}
	kept := make([]models.CartItem, 0, len(s.items))
	for _, item := range s.items {
		entry, ok := byID[item.MenuItemID]
		if !ok || !entry.IsAvailable {
			dropped = append(dropped, item.Name)
			continue
		}
		item.Price = entry.Price
		kept = append(kept, item)
	}
	s.items = kept
	if len(s.items) == 0 {
		s.restaurantID = ""
	}

	s.persist()
	return dropped
}

// Items returns a copy of the cart lines.
func (s *Store) Items() []models.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CartItem, len(s.items))
	copy(out, s.items)
	return out
}

// RestaurantID returns the cart's restaurant affinity, empty for an empty
// cart.
func (s *Store) RestaurantID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restaurantID
}

// ItemCount returns the total quantity across all lines.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

// Subtotal is the sum of price times quantity across all lines.
func (s *Store) Subtotal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return total(s.items)
}

// Total matches Subtotal; delivery fees and discounts are applied by the
// checkout flow on top of this base.
func (s *Store) Total() float64 {
	return s.Subtotal()
}

func total(items []models.CartItem) float64 {
	sum := 0.0
	for _, item := range items {
		sum += item.Price * float64(item.Quantity)
	}
	return sum
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.restaurantID = ""
	s.persist()
}

func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveCart(s.items); err != nil {
		s.log.WithComponent("cart").WithError(err).Warn("failed to persist cart")
	}
}
