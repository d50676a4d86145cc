package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/domain"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestClientGetCart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/cart", r.URL.Path)
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"c1","currency":"inr","items":[{"key":"a","productId":"p1","name":"Tea","quantity":2,"unitPrice":150}],"subtotal":300,"total":300}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/v1/", WithAPIToken("tkn"), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	require.False(t, client.Fake())

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Equal(t, "c1", cart.ID)
	require.Equal(t, "INR", cart.Currency)
	require.Equal(t, int64(300), cart.Items[0].LineTotal)
	require.True(t, fixedNow.Equal(cart.FetchedAt))
}

func TestClientSubmitOrderSendsIdempotencyKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout", r.URL.Path)
		assert.Equal(t, "mut-1", r.Header.Get(idempotencyHeader))

		var payload domain.OrderPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Maharashtra", payload.Shipping.State)
		assert.True(t, payload.ShipToDifferentAddress)

		_, _ = w.Write([]byte(`{"orderId":"o-9","status":"processing","total":1200,"currency":"inr","placedAt":"2025-03-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	confirmation, err := client.SubmitOrder(context.Background(), domain.OrderPayload{
		ClientMutationID:       "mut-1",
		Shipping:               domain.OrderAddress{State: "Maharashtra"},
		ShipToDifferentAddress: true,
	})
	require.NoError(t, err)
	require.Equal(t, "o-9", confirmation.OrderID)
	require.Equal(t, "INR", confirmation.Currency)
	require.True(t, fixedNow.Equal(confirmation.PlacedAt))
}

func TestClientSubmitOrderReturnsRemoteError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "error status", status: http.StatusUnprocessableEntity, body: `{"errors":[{"message":"Invalid postcode"},{"message":"second"}]}`, message: "Invalid postcode"},
		{name: "graphql envelope", status: http.StatusOK, body: `{"data":null,"errors":[{"message":""},{"message":"Card declined"}]}`, message: "Card declined"},
		{name: "non json body", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, message: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, err := NewClient(srv.URL)
			require.NoError(t, err)

			_, err = client.SubmitOrder(context.Background(), domain.OrderPayload{ClientMutationID: "m"})
			var remote *domain.RemoteError
			require.True(t, errors.As(err, &remote))
			require.Equal(t, tc.status, remote.StatusCode)
			require.Equal(t, tc.message, remote.FirstMessage())
		})
	}
}

func TestClientRegionsForCountry(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/countries/IN/regions", r.URL.Path)
		_, _ = w.Write([]byte(`{"regions":[{"code":"MH","name":"Maharashtra"}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	regions, err := client.RegionsForCountry(context.Background(), " in ")
	require.NoError(t, err)
	require.Equal(t, []domain.Region{{Code: "MH", Name: "Maharashtra"}}, regions)

	_, err = client.RegionsForCountry(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingCountry)
}

func TestClientHonoursContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Countries(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
