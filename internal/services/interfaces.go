package services

import (
	"context"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
)

// CartSource fetches the shopper's cart from the commerce backend.
type CartSource interface {
	GetCart(ctx context.Context) (domain.CartSnapshot, error)
}

// CheckoutService places orders with the commerce backend. Failures that the backend reported
// in its structured error list are returned as *domain.RemoteError.
type CheckoutService interface {
	SubmitOrder(ctx context.Context, payload domain.OrderPayload) (domain.OrderConfirmation, error)
}

// RegionSource lists the subdivisions of a country. An empty result is valid.
type RegionSource interface {
	RegionsForCountry(ctx context.Context, country string) ([]domain.Region, error)
}

// CountryCatalog lists the countries offered in the address forms.
type CountryCatalog interface {
	Countries(ctx context.Context) ([]domain.Country, error)
}

// CartService keeps the local view of the cart in step with the backend and persists it.
type CartService interface {
	// Snapshot returns the last known cart, false when none has been loaded yet.
	Snapshot() (domain.CartSnapshot, bool)
	// FetchCart loads the cart from the backend and persists it under the snapshot key.
	FetchCart(ctx context.Context) (domain.CartSnapshot, error)
	// RefreshCart refetches the cart after an order has been placed.
	RefreshCart(ctx context.Context) (domain.CartSnapshot, error)
	// Discard deletes the persisted snapshot and forgets the in-memory cart. Fetches still in
	// flight no longer install their result.
	Discard(ctx context.Context) error
}

// OrderEventPublisher announces placed orders to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) (string, error)
}

// OrderPlacedEvent is the message published after the backend accepts an order.
type OrderPlacedEvent struct {
	AttemptID              string    `json:"attemptId"`
	ClientMutationID       string    `json:"clientMutationId"`
	OrderID                string    `json:"orderId"`
	OrderNumber            string    `json:"orderNumber,omitempty"`
	Status                 string    `json:"status"`
	Total                  int64     `json:"total"`
	Currency               string    `json:"currency,omitempty"`
	PaymentMethod          string    `json:"paymentMethod,omitempty"`
	CartID                 string    `json:"cartId,omitempty"`
	ItemCount              int       `json:"itemCount"`
	ShippingCountry        string    `json:"shippingCountry"`
	ShipToDifferentAddress bool      `json:"shipToDifferentAddress"`
	PlacedAt               time.Time `json:"placedAt"`
}
