package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envPrefix = "CHECKOUT_"

	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultLogLevel            = "info"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultCommerceTimeout     = 8 * time.Second
	defaultRegionTimeout       = 5 * time.Second
	defaultSubmissionTimeout   = 20 * time.Second
	defaultGenericErrorMessage = "We could not place your order. Please try again."
	defaultSnapshotKey         = "woo-next-cart"
	defaultSnapshotStore       = SnapshotStoreMemory
	defaultSnapshotCollection  = "cart_snapshots"
	defaultFirestoreDial       = 10 * time.Second
	defaultSecretsEnvironment  = "local"
	defaultSecretsFallbackFile = ".secrets.local"
	defaultSessionIdleTTL      = 30 * time.Minute
)

// Snapshot store backends.
const (
	SnapshotStoreMemory    = "memory"
	SnapshotStoreFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Commerce   CommerceConfig
	Regions    RegionConfig
	Submission SubmissionConfig
	Cart       CartConfig
	Firestore  FirestoreConfig
	Secrets    SecretsConfig
	Events     EventsConfig
}

// ServerConfig configures the HTTP shell.
type ServerConfig struct {
	Port           string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	SessionIdleTTL time.Duration
}

// CommerceConfig points at the remote commerce backend. An empty BaseURL selects the
// in-process fake backend.
type CommerceConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// RegionConfig controls region lookups.
type RegionConfig struct {
	Timeout time.Duration
}

// SubmissionConfig controls order submission.
type SubmissionConfig struct {
	Timeout             time.Duration
	GenericErrorMessage string
}

// CartConfig controls cart snapshot persistence.
type CartConfig struct {
	SnapshotKey   string
	SnapshotStore string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	Collection   string
	DialTimeout  time.Duration
}

// SecretsConfig configures Secret Manager resolution.
type SecretsConfig struct {
	Environment    string
	DefaultProject string
	FallbackFile   string
}

// EventsConfig enables order-placed notifications when Topic is set.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// Enabled reports whether an order-placed topic is configured.
func (c EventsConfig) Enabled() bool {
	return strings.TrimSpace(c.Topic) != ""
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Lookup returns a key lookup honouring the precedence used by Load
// (.env < process environment < explicit map). The shell uses it to build the secret fetcher
// before the full configuration can be resolved.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if !strings.HasPrefix(key, envPrefix) {
			key = envPrefix + key
		}
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables, and
// secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := Lookup(opts...)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "SERVER_PORT", defaultPort),
			LogLevel:       strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
			ReadTimeout:    durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			SessionIdleTTL: durationWithDefault(lookup, "SESSION_IDLE_TTL", defaultSessionIdleTTL),
		},
		Commerce: CommerceConfig{
			BaseURL:  strings.TrimRight(stringWithDefault(lookup, "COMMERCE_BASE_URL", ""), "/"),
			APIToken: stringWithDefault(lookup, "COMMERCE_API_TOKEN", ""),
			Timeout:  durationWithDefault(lookup, "COMMERCE_TIMEOUT", defaultCommerceTimeout),
		},
		Regions: RegionConfig{
			Timeout: durationWithDefault(lookup, "REGIONS_TIMEOUT", defaultRegionTimeout),
		},
		Submission: SubmissionConfig{
			Timeout:             durationWithDefault(lookup, "SUBMISSION_TIMEOUT", defaultSubmissionTimeout),
			GenericErrorMessage: stringWithDefault(lookup, "SUBMISSION_GENERIC_ERROR", defaultGenericErrorMessage),
		},
		Cart: CartConfig{
			SnapshotKey:   stringWithDefault(lookup, "CART_SNAPSHOT_KEY", defaultSnapshotKey),
			SnapshotStore: strings.ToLower(stringWithDefault(lookup, "CART_SNAPSHOT_STORE", defaultSnapshotStore)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
			Collection:   stringWithDefault(lookup, "FIRESTORE_COLLECTION", defaultSnapshotCollection),
			DialTimeout:  durationWithDefault(lookup, "FIRESTORE_DIAL_TIMEOUT", defaultFirestoreDial),
		},
		Secrets: SecretsConfig{
			Environment:    strings.ToLower(stringWithDefault(lookup, "SECRETS_ENVIRONMENT", defaultSecretsEnvironment)),
			DefaultProject: stringWithDefault(lookup, "SECRETS_PROJECT_ID", ""),
			FallbackFile:   stringWithDefault(lookup, "SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "EVENTS_TOPIC", ""),
		},
	}

	// Secret Manager and Pub/Sub default to the Firestore project when unspecified.
	if cfg.Secrets.DefaultProject == "" {
		cfg.Secrets.DefaultProject = cfg.Firestore.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	token, err := resolveSecret(ctx, cfg.Commerce.APIToken, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Commerce.APIToken = token

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Commerce.Timeout <= 0 {
		missing = append(missing, "Commerce.Timeout")
	}
	if cfg.Regions.Timeout <= 0 {
		missing = append(missing, "Regions.Timeout")
	}
	if cfg.Submission.Timeout <= 0 {
		missing = append(missing, "Submission.Timeout")
	}
	if strings.TrimSpace(cfg.Submission.GenericErrorMessage) == "" {
		missing = append(missing, "Submission.GenericErrorMessage")
	}
	if strings.TrimSpace(cfg.Cart.SnapshotKey) == "" {
		missing = append(missing, "Cart.SnapshotKey")
	}
	switch cfg.Cart.SnapshotStore {
	case SnapshotStoreMemory:
	case SnapshotStoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
		if cfg.Firestore.Collection == "" {
			missing = append(missing, "Firestore.Collection")
		}
	default:
		missing = append(missing, "Cart.SnapshotStore")
	}
	if cfg.Events.Enabled() && cfg.Events.ProjectID == "" {
		missing = append(missing, "Events.ProjectID")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
