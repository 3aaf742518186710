// Package cart stores per-user shopping carts.
//
// A cart is an ordered list of (item, quantity) pairs keyed by user id.
// Adding an item that is already present increases its quantity; removing
// decreases it and drops the line once the quantity reaches zero. Three
// [Store] implementations are provided: [MemStore] for tests and single-node
// development, [PostgresStore] and [RedisStore] for deployments.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned when a user id or item is empty, or a
	// quantity is not positive.
	ErrInvalidArgument = errors.New("cart: invalid argument")

	// ErrItemNotFound is returned by Remove when the cart does not contain
	// the item.
	ErrItemNotFound = errors.New("cart: item not found")
)

// Item is one cart line.
type Item struct {
	Name     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// Cart is a snapshot of one user's cart. Items is never nil.
type Cart struct {
	UserID string `json:"user_id"`
	Items  []Item `json:"items"`
}

// TotalItems returns the sum of all line quantities.
func (c Cart) TotalItems() int {
	total := 0
	for _, it := range c.Items {
		total += it.Quantity
	}
	return total
}

// Store is the cart persistence backend. Every method returns the cart as it
// is after the operation. Implementations must be safe for concurrent use.
type Store interface {
	// Add increases the quantity of item by quantity, creating the line and
	// the cart as needed.
	Add(ctx context.Context, userID, item string, quantity int) (Cart, error)

	// Remove decreases the quantity of item by quantity and drops the line
	// when it reaches zero or below. Returns [ErrItemNotFound] if the line
	// does not exist.
	Remove(ctx context.Context, userID, item string, quantity int) (Cart, error)

	// Empty removes all lines. Emptying a cart that does not exist succeeds.
	Empty(ctx context.Context, userID string) (Cart, error)

	// Get returns the cart. A user without a cart gets an empty one.
	Get(ctx context.Context, userID string) (Cart, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

func validateLine(userID, item string, quantity int) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(item) == "" {
		return fmt.Errorf("%w: item is required", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, quantity)
	}
	return nil
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	return nil
}

func emptyCart(userID string) Cart {
	return Cart{UserID: userID, Items: []Item{}}
}
