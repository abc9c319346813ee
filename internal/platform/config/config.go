package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultFirestoreDatabase   = "(default)"
	defaultDatabaseID          = "RentalDB"
	defaultCarsContainer       = "cars"
	defaultRentalsContainer    = "rentals"
	defaultUsersContainer      = "users"
	defaultPartitionKeyPath    = "/partitionKey"
	defaultThroughput          = 400
	defaultThroughputIncrement = 100
	defaultQueryBrand          = "BMW"
	defaultRentalCarID         = "0000BBB"
	defaultRentalCarBrand      = "BMW"
	defaultRenterName          = "Manuel"
	defaultRenterSurname       = "Gomez"
	defaultContractedDays      = 10
	defaultActualDaysUsed      = 12
	defaultRunTimeout          = 2 * time.Minute
	defaultSecretsEnvironment  = "local"
	defaultExportPrefix        = "population-reports"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Firestore  FirestoreConfig
	Database   DatabaseConfig
	Population PopulationConfig
	Events     EventsConfig
	Export     ExportConfig
	Secrets    SecretsConfig
}

// FirestoreConfig stores connection parameters for the backing Firestore instance.
type FirestoreConfig struct {
	ProjectID       string
	DatabaseID      string
	EmulatorHost    string
	CredentialsJSON string
}

// DatabaseConfig names the logical database and its containers.
type DatabaseConfig struct {
	ID                  string
	CarsContainer       string
	RentalsContainer    string
	UsersContainer      string
	PartitionKeyPath    string
	DefaultThroughput   int
	ThroughputIncrement int
}

// PopulationConfig drives the population workflow.
type PopulationConfig struct {
	Teardown       bool
	QueryBrand     string
	RentalCarID    string
	RentalCarBrand string
	RenterName     string
	RenterSurname  string
	ContractedDays int
	ActualDaysUsed int
	// DeliveryDate is the zero date when the run should use the current day.
	DeliveryDate civil.Date
	RunTimeout   time.Duration
}

// EventsConfig configures rental event publishing. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// ExportConfig configures where population reports are written. An empty bucket disables export.
type ExportConfig struct {
	Bucket string
	Prefix string
}

// SecretsConfig controls how secret references are resolved.
type SecretsConfig struct {
	Environment  string
	ProjectID    string
	FallbackFile string
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

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to build the secret fetcher
// before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
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

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// Load assembles the configuration by combining defaults, .env overrides, environment variables,
// and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	options.secret = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	var invalid []string
	deliveryDate, err := dateWithDefault(lookup, "RENTAL_POPULATION_DELIVERY_DATE")
	if err != nil {
		invalid = append(invalid, "Population.DeliveryDate")
	}
	intField := func(key, field string, fallback int) int {
		value, err := intWithDefault(lookup, key, fallback)
		if err != nil {
			invalid = append(invalid, field)
		}
		return value
	}

	cfg := Config{
		Firestore: FirestoreConfig{
			ProjectID:       stringWithDefault(lookup, "RENTAL_FIRESTORE_PROJECT_ID", ""),
			DatabaseID:      stringWithDefault(lookup, "RENTAL_FIRESTORE_DATABASE_ID", defaultFirestoreDatabase),
			EmulatorHost:    stringWithDefault(lookup, "RENTAL_FIRESTORE_EMULATOR_HOST", ""),
			CredentialsJSON: stringWithDefault(lookup, "RENTAL_FIRESTORE_CREDENTIALS_JSON", ""),
		},
		Database: DatabaseConfig{
			ID:                  stringWithDefault(lookup, "RENTAL_DATABASE_ID", defaultDatabaseID),
			CarsContainer:       stringWithDefault(lookup, "RENTAL_DATABASE_CARS_CONTAINER", defaultCarsContainer),
			RentalsContainer:    stringWithDefault(lookup, "RENTAL_DATABASE_RENTALS_CONTAINER", defaultRentalsContainer),
			UsersContainer:      stringWithDefault(lookup, "RENTAL_DATABASE_USERS_CONTAINER", defaultUsersContainer),
			PartitionKeyPath:    stringWithDefault(lookup, "RENTAL_DATABASE_PARTITION_KEY_PATH", defaultPartitionKeyPath),
			DefaultThroughput:   intField("RENTAL_DATABASE_DEFAULT_THROUGHPUT", "Database.DefaultThroughput", defaultThroughput),
			ThroughputIncrement: intField("RENTAL_DATABASE_THROUGHPUT_INCREMENT", "Database.ThroughputIncrement", defaultThroughputIncrement),
		},
		Population: PopulationConfig{
			Teardown:       boolWithDefault(lookup, "RENTAL_POPULATION_TEARDOWN", true),
			QueryBrand:     stringWithDefault(lookup, "RENTAL_POPULATION_QUERY_BRAND", defaultQueryBrand),
			RentalCarID:    stringWithDefault(lookup, "RENTAL_POPULATION_CAR_ID", defaultRentalCarID),
			RentalCarBrand: stringWithDefault(lookup, "RENTAL_POPULATION_CAR_BRAND", defaultRentalCarBrand),
			RenterName:     stringWithDefault(lookup, "RENTAL_POPULATION_RENTER_NAME", defaultRenterName),
			RenterSurname:  stringWithDefault(lookup, "RENTAL_POPULATION_RENTER_SURNAME", defaultRenterSurname),
			ContractedDays: intField("RENTAL_POPULATION_CONTRACTED_DAYS", "Population.ContractedDays", defaultContractedDays),
			ActualDaysUsed: intField("RENTAL_POPULATION_ACTUAL_DAYS", "Population.ActualDaysUsed", defaultActualDaysUsed),
			DeliveryDate:   deliveryDate,
			RunTimeout:     durationWithDefault(lookup, "RENTAL_RUN_TIMEOUT", defaultRunTimeout),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "RENTAL_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "RENTAL_EVENTS_TOPIC", ""),
		},
		Export: ExportConfig{
			Bucket: stringWithDefault(lookup, "RENTAL_EXPORT_BUCKET", ""),
			Prefix: strings.Trim(stringWithDefault(lookup, "RENTAL_EXPORT_PREFIX", defaultExportPrefix), "/"),
		},
		Secrets: SecretsConfig{
			Environment:  strings.ToLower(stringWithDefault(lookup, "RENTAL_SECRETS_ENVIRONMENT", defaultSecretsEnvironment)),
			ProjectID:    stringWithDefault(lookup, "RENTAL_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "RENTAL_SECRETS_FALLBACK_FILE", ""),
		},
	}

	// Events and secrets default to the Firestore project when unspecified.
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecret(ctx, cfg.Firestore.CredentialsJSON, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Firestore.CredentialsJSON = resolved

	if err := validateConfig(cfg, invalid); err != nil {
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
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Database.ID) == "" {
		missing = append(missing, "Database.ID")
	}
	containers := map[string]string{
		"Database.CarsContainer":    cfg.Database.CarsContainer,
		"Database.RentalsContainer": cfg.Database.RentalsContainer,
		"Database.UsersContainer":   cfg.Database.UsersContainer,
	}
	seen := make(map[string]struct{}, len(containers))
	for _, field := range []string{"Database.CarsContainer", "Database.RentalsContainer", "Database.UsersContainer"} {
		name := strings.TrimSpace(containers[field])
		if name == "" || strings.Contains(name, "/") {
			missing = append(missing, field)
			continue
		}
		if _, dup := seen[name]; dup {
			missing = append(missing, field)
		}
		seen[name] = struct{}{}
	}
	if !strings.HasPrefix(cfg.Database.PartitionKeyPath, "/") || len(cfg.Database.PartitionKeyPath) < 2 {
		missing = append(missing, "Database.PartitionKeyPath")
	}
	if cfg.Database.DefaultThroughput <= 0 {
		missing = append(missing, "Database.DefaultThroughput")
	}
	if cfg.Database.ThroughputIncrement < 0 {
		missing = append(missing, "Database.ThroughputIncrement")
	}
	if cfg.Population.ContractedDays < 1 {
		missing = append(missing, "Population.ContractedDays")
	}
	if cfg.Population.ActualDaysUsed < 0 {
		missing = append(missing, "Population.ActualDaysUsed")
	}
	if cfg.Population.RunTimeout <= 0 {
		missing = append(missing, "Population.RunTimeout")
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

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
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
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

// intWithDefault returns fallback for an unset key. A malformed value yields fallback and an error.
func intWithDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func dateWithDefault(lookup func(string) (string, bool), key string) (civil.Date, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return civil.Date{}, nil
	}
	return civil.ParseDate(strings.TrimSpace(value))
}
