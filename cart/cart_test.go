package cart

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealflow/models"
)

type fakePersister struct {
	saved   [][]models.CartItem
	initial []models.CartItem
	loadErr error
	saveErr error
}

func (p *fakePersister) SaveCart(items []models.CartItem) error {
	snapshot := make([]models.CartItem, len(items))
	copy(snapshot, items)
	p.saved = append(p.saved, snapshot)
	return p.saveErr
}

func (p *fakePersister) LoadCart() ([]models.CartItem, error) {
	return p.initial, p.loadErr
}

func item(id, restaurant string, price float64, qty int) models.CartItem {
	return models.CartItem{
		MenuItemID:   id,
		Name:         "item " + id,
		Price:        price,
		Quantity:     qty,
		RestaurantID: restaurant,
	}
}

func TestAddToCartMergesQuantities(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 2))
	s.AddToCart(item("m1", "r1", 9.5, 3))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
	assert.Equal(t, 5, s.ItemCount())
}

func TestAddToCartCrossRestaurantReplaces(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 2))
	s.AddToCart(item("m2", "r1", 4.0, 1))
	require.Equal(t, "r1", s.RestaurantID())

	s.AddToCart(item("m9", "r2", 12.0, 1))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "m9", items[0].MenuItemID)
	assert.Equal(t, "r2", s.RestaurantID())
}

func TestRemoveLastItemClearsAffinity(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 1))
	s.RemoveFromCart("m1")

	assert.Empty(t, s.Items())
	assert.Empty(t, s.RestaurantID())

	// A fresh cart accepts any restaurant without a replace.
	s.AddToCart(item("m2", "r2", 4.0, 1))
	assert.Equal(t, "r2", s.RestaurantID())
}

func TestUpdateQuantity(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 2))
	s.UpdateQuantity("m1", 7)
	require.Equal(t, 7, s.Items()[0].Quantity)

	s.UpdateQuantity("m1", 0)
	assert.Empty(t, s.Items())
	assert.Empty(t, s.RestaurantID())
}

func TestTotals(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 2))
	s.AddToCart(item("m2", "r1", 4.25, 3))

	assert.InDelta(t, 9.5*2+4.25*3, s.Subtotal(), 1e-9)
	assert.Equal(t, s.Subtotal(), s.Total())
}

func TestValidateCartIsPure(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 1))
	s.AddToCart(item("m2", "r1", 4.0, 2))
	s.AddToCart(item("m3", "r1", 6.0, 1))

	menu := []models.MenuItem{
		{ID: "m1", Name: "item m1", Price: 10.5, IsAvailable: true},
		{ID: "m2", Name: "item m2", Price: 4.0, IsAvailable: false},
		// m3 is gone from the menu entirely.
	}

	result := s.ValidateCart(menu)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"item m2"}, result.UnavailableItems)
	assert.Equal(t, []string{"item m3"}, result.RemovedItems)
	require.Len(t, result.PriceChangedItems, 1)
	assert.Equal(t, 9.5, result.PriceChangedItems[0].OldPrice)
	assert.Equal(t, 10.5, result.PriceChangedItems[0].NewPrice)

	// Nothing changed in the cart itself.
	require.Len(t, s.Items(), 3)
	assert.Equal(t, 9.5, s.Items()[0].Price)
}

func TestValidateCartPriceDriftAloneStaysValid(t *testing.T) {
	s := NewStore(nil)
	s.AddToCart(item("m1", "r1", 9.5, 1))

	result := s.ValidateCart([]models.MenuItem{
		{ID: "m1", Name: "item m1", Price: 11.0, IsAvailable: true},
	})
	assert.True(t, result.Valid)
	require.Len(t, result.PriceChangedItems, 1)
}

func TestSyncWithMenuCommitsReconciliation(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 1))
	s.AddToCart(item("m2", "r1", 4.0, 2))
	s.AddToCart(item("m3", "r1", 6.0, 1))

	menu := []models.MenuItem{
		{ID: "m1", Name: "item m1", Price: 10.5, IsAvailable: true},
		{ID: "m2", Name: "item m2", Price: 4.0, IsAvailable: false},
	}

	result := s.SyncWithMenu(menu)
	assert.False(t, result.Valid)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "m1", items[0].MenuItemID)
	assert.Equal(t, 10.5, items[0].Price)
	assert.True(t, items[0].IsAvailable)

	// A second sync against the same menu is a no-op.
	again := s.SyncWithMenu(menu)
	assert.True(t, again.Valid)
	assert.Empty(t, again.PriceChangedItems)
	require.Len(t, s.Items(), 1)
}

func TestSyncWithMenuEmptiesCartClearsAffinity(t *testing.T) {
	s := NewStore(nil)
	s.AddToCart(item("m1", "r1", 9.5, 1))

	s.SyncWithMenu([]models.MenuItem{})
	assert.Empty(t, s.Items())
	assert.Empty(t, s.RestaurantID())
}

func TestRemoveUnavailableItems(t *testing.T) {
	s := NewStore(nil)

	s.AddToCart(item("m1", "r1", 9.5, 1))
	s.AddToCart(item("m2", "r1", 4.0, 2))

	dropped := s.RemoveUnavailableItems([]models.MenuItem{
		{ID: "m1", Name: "item m1", Price: 9.75, IsAvailable: true},
	})
	assert.Equal(t, []string{"item m2"}, dropped)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 9.75, items[0].Price)
}

func TestHydrateFromPersister(t *testing.T) {
	p := &fakePersister{initial: []models.CartItem{item("m1", "r1", 9.5, 2)}}
	s := NewStore(p)

	require.Len(t, s.Items(), 1)
	assert.Equal(t, "r1", s.RestaurantID())
}

func TestHydrateErrorStartsEmpty(t *testing.T) {
	p := &fakePersister{loadErr: errors.New("disk gone")}
	s := NewStore(p)

	assert.Empty(t, s.Items())
	assert.Empty(t, s.RestaurantID())
}

func TestMutationsPersist(t *testing.T) {
	p := &fakePersister{}
	s := NewStore(p)

	s.AddToCart(item("m1", "r1", 9.5, 1))
	s.UpdateQuantity("m1", 3)
	s.Clear()

	require.Len(t, p.saved, 3)
	assert.Len(t, p.saved[0], 1)
	assert.Equal(t, 3, p.saved[1][0].Quantity)
	assert.Empty(t, p.saved[2])
}
