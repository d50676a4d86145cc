package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, defaultCommerceTimeout, cfg.Commerce.Timeout)
	require.Empty(t, cfg.Commerce.BaseURL)
	require.Equal(t, defaultRegionTimeout, cfg.Regions.Timeout)
	require.Equal(t, defaultSubmissionTimeout, cfg.Submission.Timeout)
	require.Equal(t, defaultGenericErrorMessage, cfg.Submission.GenericErrorMessage)
	require.Equal(t, "woo-next-cart", cfg.Cart.SnapshotKey)
	require.Equal(t, SnapshotStoreMemory, cfg.Cart.SnapshotStore)
	require.Equal(t, "cart_snapshots", cfg.Firestore.Collection)
	require.Equal(t, 10*time.Second, cfg.Firestore.DialTimeout)
	require.False(t, cfg.Events.Enabled())
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"CHECKOUT_SERVER_PORT":              "9090",
		"CHECKOUT_LOG_LEVEL":                "DEBUG",
		"CHECKOUT_COMMERCE_BASE_URL":        "https://shop.example.com/",
		"CHECKOUT_COMMERCE_API_TOKEN":       "sm://commerce-token",
		"CHECKOUT_COMMERCE_TIMEOUT":         "3s",
		"CHECKOUT_REGIONS_TIMEOUT":          "2",
		"CHECKOUT_SUBMISSION_TIMEOUT":       "45s",
		"CHECKOUT_SUBMISSION_GENERIC_ERROR": "Something went wrong",
		"CHECKOUT_CART_SNAPSHOT_STORE":      "firestore",
		"CHECKOUT_FIRESTORE_PROJECT_ID":     "shop-prod",
		"CHECKOUT_FIRESTORE_DIAL_TIMEOUT":   "4s",
		"CHECKOUT_EVENTS_TOPIC":             "orders-placed",
	}

	var resolved []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		resolved = append(resolved, ref)
		return " token-value ", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "https://shop.example.com", cfg.Commerce.BaseURL)
	require.Equal(t, "token-value", cfg.Commerce.APIToken)
	require.Equal(t, []string{"secret://commerce-token"}, resolved)
	require.Equal(t, 3*time.Second, cfg.Commerce.Timeout)
	require.Equal(t, 2*time.Second, cfg.Regions.Timeout)
	require.Equal(t, 45*time.Second, cfg.Submission.Timeout)
	require.Equal(t, "Something went wrong", cfg.Submission.GenericErrorMessage)
	require.Equal(t, SnapshotStoreFirestore, cfg.Cart.SnapshotStore)
	require.Equal(t, "shop-prod", cfg.Secrets.DefaultProject)
	require.Equal(t, 4*time.Second, cfg.Firestore.DialTimeout)
	require.Equal(t, "shop-prod", cfg.Events.ProjectID)
	require.True(t, cfg.Events.Enabled())
}

func TestLoadValidationError(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"CHECKOUT_CART_SNAPSHOT_STORE": "firestore",
		"CHECKOUT_EVENTS_TOPIC":        "orders",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.ElementsMatch(t, []string{"Firestore.ProjectID", "Events.ProjectID"}, vErr.Fields())
}

func TestLoadRejectsUnknownSnapshotStore(t *testing.T) {
	t.Parallel()

	env := map[string]string{"CHECKOUT_CART_SNAPSHOT_STORE": "redis"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields(), "Cart.SnapshotStore")
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	t.Parallel()

	env := map[string]string{"CHECKOUT_COMMERCE_API_TOKEN": "secret://commerce-token"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))

	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	require.Equal(t, "secret://commerce-token", secretErr.Ref)
	require.True(t, errors.Is(err, errSecretResolverNotConfigured))
}

func TestLoadReadsDotEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nCHECKOUT_SERVER_PORT=7070\nexport CHECKOUT_CART_SNAPSHOT_KEY=\"local-cart\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"CHECKOUT_SERVER_PORT": "6060"}),
	)
	require.NoError(t, err)
	require.Equal(t, "6060", cfg.Server.Port)
	require.Equal(t, "local-cart", cfg.Cart.SnapshotKey)
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithoutSystemEnv())
	require.NoError(t, err)
}

func TestLookupAddsPrefix(t *testing.T) {
	t.Parallel()

	lookup, err := Lookup(WithEnvFile(""), WithoutSystemEnv(), WithEnvMap(map[string]string{"CHECKOUT_SECRETS_PROJECT_ID": "p1"}))
	require.NoError(t, err)

	value, ok := lookup("SECRETS_PROJECT_ID")
	require.True(t, ok)
	require.Equal(t, "p1", value)
	value, ok = lookup("CHECKOUT_SECRETS_PROJECT_ID")
	require.True(t, ok)
	require.Equal(t, "p1", value)
}
