package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const tokenResource = "projects/shop/secrets/commerce-token/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values[tokenResource] = "remote-token"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("shop"), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://commerce-token")
		require.NoError(t, err)
		require.Equal(t, "remote-token", got)
	}
	require.Equal(t, 1, client.callCount(tokenResource))

	fetcher.Invalidate("secret://commerce-token")
	_, err = fetcher.Resolve(ctx, "secret://commerce-token")
	require.NoError(t, err)
	require.Equal(t, 2, client.callCount(tokenResource))
}

func TestResolveHonoursVersionAndProjectOverride(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values["projects/other/secrets/commerce-token/versions/3"] = "pinned"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("shop"))
	require.NoError(t, err)

	got, err := fetcher.Resolve(ctx, "secret://commerce-token?version=3&project=other")
	require.NoError(t, err)
	require.Equal(t, "pinned", got)
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fallbackPath := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(fallbackPath, []byte("# local\nsecret://commerce-token=local-token\n"), 0o600))

	client := newFakeSecretClient()
	client.errors[tokenResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("shop"), WithFallbackFile(fallbackPath))
	require.NoError(t, err)

	got, err := fetcher.Resolve(ctx, "secret://commerce-token")
	require.NoError(t, err)
	require.Equal(t, "local-token", got)
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fallbackPath := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(fallbackPath, []byte("secret://commerce-token=local-token\n"), 0o600))

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(newFakeSecretClient()), WithDefaultProject("shop"), WithFallbackFile(fallbackPath))
	require.NoError(t, err)

	_, err = fetcher.Resolve(ctx, "secret://commerce-token")
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(unwrapAll(err)))
}

func TestLocalOnlyFetcherReadsFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fallbackPath := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(fallbackPath, []byte("sm://commerce-token=local-token\n"), 0o600))

	fetcher, err := NewFetcher(ctx, WithLocalOnly(), WithFallbackFile(fallbackPath))
	require.NoError(t, err)

	got, err := fetcher.Resolve(ctx, "secret://commerce-token?version=2")
	require.NoError(t, err)
	require.Equal(t, "local-token", got)

	_, err = fetcher.Resolve(ctx, "secret://missing")
	require.Error(t, err)
}

func TestParseReferenceRejectsOtherSchemes(t *testing.T) {
	t.Parallel()

	_, err := parseReference("https://example.com/secret")
	require.Error(t, err)
	_, err = parseReference("secret://")
	require.Error(t, err)
}

func unwrapAll(err error) error {
	for {
		next, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := next.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++
	if err, ok := f.errors[name]; ok {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
