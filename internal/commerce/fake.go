package commerce

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/checkout/internal/domain"
)

// DeclineEmailSuffix makes the fake backend reject an order, for exercising the failure path
// without a real store.
const DeclineEmailSuffix = "@decline.test"

//go:embed data/regions.yaml
var regionCatalogueYAML []byte

type regionCatalogue struct {
	Countries []struct {
		Code    string          `yaml:"code"`
		Name    string          `yaml:"name"`
		Regions []domain.Region `yaml:"regions"`
	} `yaml:"countries"`
}

type fakeBackend struct {
	now       func() time.Time
	countryLs []domain.Country
	regionMap map[string][]domain.Region

	mu    sync.Mutex
	items []domain.CartItem
}

func newFakeBackend(now func() time.Time) (*fakeBackend, error) {
	var catalogue regionCatalogue
	if err := yaml.Unmarshal(regionCatalogueYAML, &catalogue); err != nil {
		return nil, fmt.Errorf("commerce: parse region catalogue: %w", err)
	}
	backend := &fakeBackend{
		now:       now,
		regionMap: make(map[string][]domain.Region, len(catalogue.Countries)),
		items: []domain.CartItem{
			{Key: "line-1", ProductID: "101", SKU: "TS-BLK-M", Name: "Cotton T-Shirt", Quantity: 2, UnitPrice: 79900, LineTotal: 159800},
			{Key: "line-2", ProductID: "205", SKU: "CAP-GRY", Name: "Cap", Quantity: 1, UnitPrice: 34900, LineTotal: 34900},
		},
	}
	for _, country := range catalogue.Countries {
		code := strings.ToUpper(strings.TrimSpace(country.Code))
		backend.countryLs = append(backend.countryLs, domain.Country{Code: code, Name: country.Name})
		backend.regionMap[code] = country.Regions
	}
	return backend, nil
}

func (f *fakeBackend) cart(ctx context.Context) (domain.CartSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartSnapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(), nil
}

func (f *fakeBackend) snapshotLocked() domain.CartSnapshot {
	snapshot := domain.CartSnapshot{
		ID:        "fake-cart",
		Currency:  "INR",
		Items:     append([]domain.CartItem(nil), f.items...),
		FetchedAt: f.now().UTC(),
	}
	for _, item := range f.items {
		snapshot.Subtotal += item.LineTotal
	}
	snapshot.Total = snapshot.Subtotal
	return snapshot
}

func (f *fakeBackend) submit(ctx context.Context, payload domain.OrderPayload) (domain.OrderConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderConfirmation{}, err
	}
	if strings.HasSuffix(strings.ToLower(payload.Billing.Email), DeclineEmailSuffix) {
		return domain.OrderConfirmation{}, &domain.RemoteError{
			StatusCode: 402,
			Errors: []domain.RemoteErrorDetail{
				{Code: "payment_declined", Message: "Your payment was declined. Please use a different payment method."},
				{Code: "order_not_created", Message: "The order could not be created."},
			},
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 || len(payload.LineItems) == 0 {
		return domain.OrderConfirmation{}, &domain.RemoteError{
			StatusCode: 409,
			Errors:     []domain.RemoteErrorDetail{{Code: "empty_cart", Message: "Your cart is empty."}},
		}
	}

	snapshot := f.snapshotLocked()
	orderID := ulid.Make().String()
	f.items = nil
	return domain.OrderConfirmation{
		OrderID:       "ord_" + strings.ToLower(orderID),
		OrderNumber:   orderID[len(orderID)-6:],
		Status:        "processing",
		Total:         snapshot.Total,
		Currency:      snapshot.Currency,
		PaymentMethod: payload.PaymentMethod,
		PlacedAt:      f.now().UTC(),
	}, nil
}

func (f *fakeBackend) regions(ctx context.Context, country string) ([]domain.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]domain.Region(nil), f.regionMap[country]...), nil
}

func (f *fakeBackend) countries(ctx context.Context) ([]domain.Country, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]domain.Country(nil), f.countryLs...), nil
}
