package cart

import (
	"context"
	"slices"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// Carts are lost on restart. The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	carts map[string][]Item
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{carts: make(map[string][]Item)}
}

// Add implements [Store.Add].
func (s *MemStore) Add(_ context.Context, userID, item string, quantity int) (Cart, error) {
	if err := validateLine(userID, item, quantity); err != nil {
		return Cart{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.carts == nil {
		s.carts = make(map[string][]Item)
	}
	items := s.carts[userID]
	if i := indexOf(items, item); i >= 0 {
		items[i].Quantity += quantity
	} else {
		items = append(items, Item{Name: item, Quantity: quantity})
	}
	s.carts[userID] = items
	return s.snapshot(userID), nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(_ context.Context, userID, item string, quantity int) (Cart, error) {
	if err := validateLine(userID, item, quantity); err != nil {
		return Cart{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[userID]
	i := indexOf(items, item)
	if i < 0 {
		return Cart{}, ErrItemNotFound
	}
	items[i].Quantity -= quantity
	if items[i].Quantity <= 0 {
		items = slices.Delete(items, i, i+1)
	}
	s.carts[userID] = items
	return s.snapshot(userID), nil
}

// Empty implements [Store.Empty].
func (s *MemStore) Empty(_ context.Context, userID string) (Cart, error) {
	if err := validateUser(userID); err != nil {
		return Cart{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.carts == nil {
		s.carts = make(map[string][]Item)
	}
	s.carts[userID] = nil
	return emptyCart(userID), nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, userID string) (Cart, error) {
	if err := validateUser(userID); err != nil {
		return Cart{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(userID), nil
}

// snapshot copies the user's lines. Callers must hold s.mu.
func (s *MemStore) snapshot(userID string) Cart {
	c := emptyCart(userID)
	c.Items = append(c.Items, s.carts[userID]...)
	return c
}

func indexOf(items []Item, name string) int {
	return slices.IndexFunc(items, func(it Item) bool { return it.Name == name })
}
