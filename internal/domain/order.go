package domain

import (
	"fmt"
	"strings"
	"time"
)

// CartSnapshot is the cart as last returned by the commerce backend.
type CartSnapshot struct {
	ID        string     `json:"id"`
	Currency  string     `json:"currency"`
	Items     []CartItem `json:"items"`
	Subtotal  int64      `json:"subtotal"`
	Total     int64      `json:"total"`
	FetchedAt time.Time  `json:"fetchedAt"`
}

// CartItem is one line in the cart.
type CartItem struct {
	Key       string `json:"key"`
	ProductID string `json:"productId"`
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

// Clone returns a copy that does not share the items slice.
func (c CartSnapshot) Clone() CartSnapshot {
	out := c
	if len(c.Items) > 0 {
		out.Items = append([]CartItem(nil), c.Items...)
	}
	return out
}

// Empty reports whether the cart has no purchasable lines.
func (c CartSnapshot) Empty() bool {
	for _, item := range c.Items {
		if item.Quantity > 0 {
			return false
		}
	}
	return true
}

// ItemCount sums quantities across lines.
func (c CartSnapshot) ItemCount() int {
	total := 0
	for _, item := range c.Items {
		if item.Quantity > 0 {
			total += item.Quantity
		}
	}
	return total
}

// OrderAddress is the address shape sent to the commerce backend.
type OrderAddress struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	Country   string `json:"country"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Company   string `json:"company,omitempty"`
}

// OrderLineItem references a cart line in the order payload.
type OrderLineItem struct {
	ProductID string `json:"productId"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int    `json:"quantity"`
}

// OrderPayload is the request body for placing an order.
type OrderPayload struct {
	ClientMutationID       string          `json:"clientMutationId"`
	CartID                 string          `json:"cartId,omitempty"`
	Billing                OrderAddress    `json:"billing"`
	Shipping               OrderAddress    `json:"shipping"`
	ShipToDifferentAddress bool            `json:"shipToDifferentAddress"`
	CreateAccount          bool            `json:"createAccount"`
	CustomerNote           string          `json:"customerNote,omitempty"`
	PaymentMethod          string          `json:"paymentMethod"`
	LineItems              []OrderLineItem `json:"lineItems"`
}

// Clone returns a copy that does not share the line item slice.
func (p OrderPayload) Clone() OrderPayload {
	out := p
	if len(p.LineItems) > 0 {
		out.LineItems = append([]OrderLineItem(nil), p.LineItems...)
	}
	return out
}

// OrderConfirmation describes the order created by the backend.
type OrderConfirmation struct {
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber,omitempty"`
	Status        string    `json:"status"`
	Total         int64     `json:"total"`
	Currency      string    `json:"currency,omitempty"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
	RedirectURL   string    `json:"redirectUrl,omitempty"`
	PlacedAt      time.Time `json:"placedAt"`
}

// RemoteErrorDetail is one entry of the structured error list returned by the backend.
type RemoteErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// RemoteError is returned by commerce backend calls that completed with an error response.
type RemoteError struct {
	StatusCode int
	Errors     []RemoteErrorDetail
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if msg := e.FirstMessage(); msg != "" {
		return fmt.Sprintf("commerce: status %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("commerce: status %d", e.StatusCode)
}

// FirstMessage returns the first non-empty message in the error list.
func (e *RemoteError) FirstMessage() string {
	if e == nil {
		return ""
	}
	for _, detail := range e.Errors {
		if msg := strings.TrimSpace(detail.Message); msg != "" {
			return msg
		}
	}
	return ""
}
