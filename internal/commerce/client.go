package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxResponseBody   = 1 << 20
)

// ErrMissingCountry is returned by region lookups without a country code.
var ErrMissingCountry = errors.New("commerce: missing country code")

// Client talks to the commerce backend's storefront API. When no base URL is configured the
// client serves a deterministic in-process backend instead.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	fake    *fakeBackend
	now     func() time.Time
}

// Option customises the client.
type Option func(*Client)

// WithAPIToken sends the token as a bearer credential on every request.
func WithAPIToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithClock overrides the clock used to stamp cart snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a commerce client. An empty baseURL selects the fake backend.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		fake, err := newFakeBackend(c.now)
		if err != nil {
			return nil, err
		}
		c.fake = fake
	}
	return c, nil
}

// Fake reports whether the client serves the in-process backend.
func (c *Client) Fake() bool {
	return c.fake != nil
}

// GetCart fetches the shopper's current cart.
func (c *Client) GetCart(ctx context.Context) (domain.CartSnapshot, error) {
	if c.fake != nil {
		return c.fake.cart(ctx)
	}
	var payload cartPayload
	if err := c.do(ctx, http.MethodGet, "", nil, &payload, "cart"); err != nil {
		return domain.CartSnapshot{}, err
	}
	return payload.toDomain(c.now()), nil
}

// SubmitOrder places the order. The client mutation ID doubles as the idempotency key so a
// transport-level resend cannot create a second order.
func (c *Client) SubmitOrder(ctx context.Context, payload domain.OrderPayload) (domain.OrderConfirmation, error) {
	if c.fake != nil {
		return c.fake.submit(ctx, payload)
	}
	var resp orderPayload
	if err := c.do(ctx, http.MethodPost, payload.ClientMutationID, payload, &resp, "checkout"); err != nil {
		return domain.OrderConfirmation{}, err
	}
	confirmation := resp.toDomain()
	if confirmation.OrderID == "" {
		return domain.OrderConfirmation{}, errors.New("commerce: checkout response missing order id")
	}
	return confirmation, nil
}

// RegionsForCountry lists the subdivisions of the country, possibly none.
func (c *Client) RegionsForCountry(ctx context.Context, country string) ([]domain.Region, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return nil, ErrMissingCountry
	}
	if c.fake != nil {
		return c.fake.regions(ctx, country)
	}
	var payload struct {
		Regions []domain.Region `json:"regions"`
	}
	if err := c.do(ctx, http.MethodGet, "", nil, &payload, "countries", country, "regions"); err != nil {
		return nil, err
	}
	return payload.Regions, nil
}

// Countries lists the countries the store ships to.
func (c *Client) Countries(ctx context.Context) ([]domain.Country, error) {
	if c.fake != nil {
		return c.fake.countries(ctx)
	}
	var payload struct {
		Countries []domain.Country `json:"countries"`
	}
	if err := c.do(ctx, http.MethodGet, "", nil, &payload, "countries"); err != nil {
		return nil, err
	}
	return payload.Countries, nil
}

func (c *Client) do(ctx context.Context, method, idempotencyKey string, body any, out any, path ...string) error {
	endpoint, err := url.JoinPath(c.baseURL, path...)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}

	// GraphQL style backends report failures inside a 200 envelope, so the error list is
	// checked regardless of status. Non-JSON error bodies yield a RemoteError without details.
	var envelope errorEnvelope
	_ = json.Unmarshal(raw, &envelope)
	if resp.StatusCode >= 400 || len(envelope.Errors) > 0 {
		return &domain.RemoteError{StatusCode: resp.StatusCode, Errors: envelope.Errors}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("commerce: decode %s response: %w", strings.Join(path, "/"), err)
	}
	return nil
}

type errorEnvelope struct {
	Errors []domain.RemoteErrorDetail `json:"errors"`
}

type cartPayload struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Items    []struct {
		Key       string `json:"key"`
		ProductID string `json:"productId"`
		SKU       string `json:"sku"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
		UnitPrice int64  `json:"unitPrice"`
		LineTotal int64  `json:"lineTotal"`
	} `json:"items"`
	Subtotal int64 `json:"subtotal"`
	Total    int64 `json:"total"`
}

func (p cartPayload) toDomain(fetchedAt time.Time) domain.CartSnapshot {
	snapshot := domain.CartSnapshot{
		ID:        strings.TrimSpace(p.ID),
		Currency:  strings.ToUpper(strings.TrimSpace(p.Currency)),
		Subtotal:  p.Subtotal,
		Total:     p.Total,
		FetchedAt: fetchedAt.UTC(),
	}
	for _, item := range p.Items {
		line := domain.CartItem{
			Key:       strings.TrimSpace(item.Key),
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		}
		if line.LineTotal == 0 {
			line.LineTotal = line.UnitPrice * int64(line.Quantity)
		}
		snapshot.Items = append(snapshot.Items, line)
	}
	return snapshot
}

type orderPayload struct {
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
	RedirectURL   string `json:"redirectUrl"`
	PlacedAt      string `json:"placedAt"`
}

func (p orderPayload) toDomain() domain.OrderConfirmation {
	return domain.OrderConfirmation{
		OrderID:       strings.TrimSpace(p.OrderID),
		OrderNumber:   strings.TrimSpace(p.OrderNumber),
		Status:        defaultString(p.Status, "pending"),
		Total:         p.Total,
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
		PaymentMethod: strings.TrimSpace(p.PaymentMethod),
		RedirectURL:   strings.TrimSpace(p.RedirectURL),
		PlacedAt:      parseTime(p.PlacedAt),
	}
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}

func parseTime(val string) time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts
		}
	}
	return time.Time{}
}
