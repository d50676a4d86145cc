package commerce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/domain"
)

func TestFakeBackendRegionCatalogue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client, err := NewClient("")
	require.NoError(t, err)
	require.True(t, client.Fake())

	regions, err := client.RegionsForCountry(ctx, "IN")
	require.NoError(t, err)
	require.Contains(t, regions, domain.Region{Code: "MH", Name: "Maharashtra"})

	regions, err = client.RegionsForCountry(ctx, "GB")
	require.NoError(t, err)
	require.Empty(t, regions)

	regions, err = client.RegionsForCountry(ctx, "ZZ")
	require.NoError(t, err)
	require.Empty(t, regions)

	countries, err := client.Countries(ctx)
	require.NoError(t, err)
	require.Contains(t, countries, domain.Country{Code: "IN", Name: "India"})
}

func TestFakeBackendOrderClearsCart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client, err := NewClient("")
	require.NoError(t, err)

	cart, err := client.GetCart(ctx)
	require.NoError(t, err)
	require.False(t, cart.Empty())

	payload := domain.OrderPayload{
		ClientMutationID: "m1",
		PaymentMethod:    "cod",
		Billing:          domain.OrderAddress{Email: "buyer@example.com"},
		LineItems:        []domain.OrderLineItem{{ProductID: "101", Quantity: 2}},
	}
	confirmation, err := client.SubmitOrder(ctx, payload)
	require.NoError(t, err)
	require.NotEmpty(t, confirmation.OrderID)
	require.Equal(t, cart.Total, confirmation.Total)
	require.Equal(t, "cod", confirmation.PaymentMethod)

	cart, err = client.GetCart(ctx)
	require.NoError(t, err)
	require.True(t, cart.Empty())

	_, err = client.SubmitOrder(ctx, payload)
	var remote *domain.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "Your cart is empty.", remote.FirstMessage())
}

func TestFakeBackendDeclines(t *testing.T) {
	t.Parallel()

	client, err := NewClient("")
	require.NoError(t, err)

	_, err = client.SubmitOrder(context.Background(), domain.OrderPayload{
		Billing:   domain.OrderAddress{Email: "someone" + DeclineEmailSuffix},
		LineItems: []domain.OrderLineItem{{ProductID: "101", Quantity: 1}},
	})
	var remote *domain.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "Your payment was declined. Please use a different payment method.", remote.FirstMessage())
}
