// Package config handles loading and validation of service configuration.
// Supports both development (env vars or CONFIG_FILE) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"gopkg.in/yaml.v3"

	"ucp-checkout/internal/model"
)

// Defaults applied when a setting is absent.
const (
	DefaultPort                = "8080"
	DefaultSessionTTL          = time.Hour
	DefaultProfileFetchTimeout = 5 * time.Second
	DefaultProfileCacheTTL     = 5 * time.Minute
	DefaultRateLimitRPS        = 20.0
	DefaultRateLimitBurst      = 40
	DefaultOrderBaseURL        = "https://example.com/orders"
	DefaultCurrency            = "USD"

	// CatalogNone disables the embedded sample catalog.
	CatalogNone = "none"

	// FulfillmentDisabled as FULFILLMENT_FEE removes the fulfillment total.
	FulfillmentDisabled int64 = -1
)

// Config holds all service configuration.
// Environment determines whether business settings load from env vars (development)
// or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"
	BaseURL     string // public base URL; derived from Port when unset

	// GCP settings (required in production)
	GCPProject string
	MerchantID string

	// CatalogFile is a CSV or YAML product file. Empty loads the embedded
	// sample catalog, CatalogNone starts empty.
	CatalogFile string

	SessionTTL time.Duration

	// Outbound platform profile fetches
	ProfileFetchTimeout   time.Duration
	ProfileCacheTTL       time.Duration
	ProfileTLSFingerprint string // "", "chrome", "firefox", "safari"

	// Per-caller rate limiting; RateLimitRPS <= 0 disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	Tracing      string // "", "stdout" or "otlp"
	OTLPEndpoint string

	// Business-specific configuration (loaded from secrets in production)
	Business BusinessSettings
}

// BusinessSettings contains the settings projected into discovery and
// checkout responses. In production this is loaded from Secret Manager as JSON.
type BusinessSettings struct {
	Name         string            `json:"name,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	OrderBaseURL string            `json:"order_base_url,omitempty"`
	PolicyLinks  map[string]string `json:"policy_links,omitempty"`

	// Payment handlers to advertise. Handler configs are opaque and passed
	// to agents as-is. Empty advertises the built-in mock handler.
	PaymentHandlers []model.PaymentHandler `json:"payment_handlers,omitempty"`

	// FulfillmentFee in minor units. Nil uses the default fee,
	// FulfillmentDisabled drops the fulfillment total.
	FulfillmentFee   *int64 `json:"fulfillment_fee,omitempty"`
	FulfillmentLabel string `json:"fulfillment_label,omitempty"`
}

// fileConfig mirrors the CONFIG_FILE structure. Durations are strings in
// time.ParseDuration form.
type fileConfig struct {
	Port                  string           `json:"port"`
	Environment           string           `json:"environment"`
	LogLevel              string           `json:"log_level"`
	BaseURL               string           `json:"base_url"`
	GCPProject            string           `json:"gcp_project"`
	MerchantID            string           `json:"merchant_id"`
	CatalogFile           string           `json:"catalog_file"`
	SessionTTL            string           `json:"session_ttl"`
	ProfileFetchTimeout   string           `json:"profile_fetch_timeout"`
	ProfileCacheTTL       string           `json:"profile_cache_ttl"`
	ProfileTLSFingerprint string           `json:"profile_tls_fingerprint"`
	RateLimitRPS          *float64         `json:"rate_limit_rps"`
	RateLimitBurst        *int             `json:"rate_limit_burst"`
	Tracing               string           `json:"tracing"`
	OTLPEndpoint          string           `json:"otlp_endpoint"`
	Business              BusinessSettings `json:"business"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars, with business settings from
// Secret Manager in production.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:                  envOrDefault("PORT", DefaultPort),
		Environment:           envOrDefault("ENVIRONMENT", "development"),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		BaseURL:               os.Getenv("BASE_URL"),
		GCPProject:            os.Getenv("GCP_PROJECT"),
		MerchantID:            os.Getenv("MERCHANT_ID"),
		CatalogFile:           os.Getenv("CATALOG_FILE"),
		ProfileTLSFingerprint: os.Getenv("PROFILE_TLS_FINGERPRINT"),
		Tracing:               os.Getenv("TRACING"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.SessionTTL, err = durationOrDefault("SESSION_TTL", os.Getenv("SESSION_TTL"), DefaultSessionTTL); err != nil {
		return nil, err
	}
	if cfg.ProfileFetchTimeout, err = durationOrDefault("PROFILE_FETCH_TIMEOUT", os.Getenv("PROFILE_FETCH_TIMEOUT"), DefaultProfileFetchTimeout); err != nil {
		return nil, err
	}
	if cfg.ProfileCacheTTL, err = durationOrDefault("PROFILE_CACHE_TTL", os.Getenv("PROFILE_CACHE_TTL"), DefaultProfileCacheTTL); err != nil {
		return nil, err
	}

	cfg.RateLimitRPS = DefaultRateLimitRPS
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if cfg.RateLimitRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("parsing RATE_LIMIT_RPS: %w", err)
		}
	}
	cfg.RateLimitBurst = DefaultRateLimitBurst
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if cfg.RateLimitBurst, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parsing RATE_LIMIT_BURST: %w", err)
		}
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.MerchantID == "" {
			return nil, fmt.Errorf("MERCHANT_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading business config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON or YAML file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:                  withDefault(fc.Port, DefaultPort),
		Environment:           withDefault(fc.Environment, "development"),
		LogLevel:              withDefault(fc.LogLevel, "info"),
		BaseURL:               fc.BaseURL,
		GCPProject:            fc.GCPProject,
		MerchantID:            fc.MerchantID,
		CatalogFile:           fc.CatalogFile,
		ProfileTLSFingerprint: fc.ProfileTLSFingerprint,
		RateLimitRPS:          DefaultRateLimitRPS,
		RateLimitBurst:        DefaultRateLimitBurst,
		Tracing:               fc.Tracing,
		OTLPEndpoint:          fc.OTLPEndpoint,
		Business:              fc.Business,
	}
	if fc.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.RateLimitRPS
	}
	if fc.RateLimitBurst != nil {
		cfg.RateLimitBurst = *fc.RateLimitBurst
	}
	if cfg.SessionTTL, err = durationOrDefault("session_ttl", fc.SessionTTL, DefaultSessionTTL); err != nil {
		return nil, err
	}
	if cfg.ProfileFetchTimeout, err = durationOrDefault("profile_fetch_timeout", fc.ProfileFetchTimeout, DefaultProfileFetchTimeout); err != nil {
		return nil, err
	}
	if cfg.ProfileCacheTTL, err = durationOrDefault("profile_cache_ttl", fc.ProfileCacheTTL, DefaultProfileCacheTTL); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// yamlToJSON converts a YAML document into JSON so a single set of struct
// tags serves both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches business settings from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{merchant_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.MerchantID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Business); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads business settings from individual environment variables.
func (c *Config) loadFromEnv() error {
	c.Business = BusinessSettings{
		Name:             os.Getenv("BUSINESS_NAME"),
		Currency:         os.Getenv("CURRENCY"),
		OrderBaseURL:     os.Getenv("ORDER_BASE_URL"),
		FulfillmentLabel: os.Getenv("FULFILLMENT_LABEL"),
	}

	if linksJSON := os.Getenv("POLICY_LINKS"); linksJSON != "" {
		if err := json.Unmarshal([]byte(linksJSON), &c.Business.PolicyLinks); err != nil {
			return fmt.Errorf("parsing POLICY_LINKS JSON: %w", err)
		}
	}

	if handlersJSON := os.Getenv("PAYMENT_HANDLERS"); handlersJSON != "" {
		if err := json.Unmarshal([]byte(handlersJSON), &c.Business.PaymentHandlers); err != nil {
			return fmt.Errorf("parsing PAYMENT_HANDLERS JSON: %w", err)
		}
	}

	if fee := os.Getenv("FULFILLMENT_FEE"); fee != "" {
		amount, err := strconv.ParseInt(fee, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing FULFILLMENT_FEE: %w", err)
		}
		c.Business.FulfillmentFee = &amount
	}

	return nil
}

// validate checks that configured values are usable.
func (c *Config) validate() error {
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base_url %q", c.BaseURL)
		}
	}
	if c.Business.OrderBaseURL != "" {
		if _, err := url.Parse(c.Business.OrderBaseURL); err != nil {
			return fmt.Errorf("invalid order_base_url: %w", err)
		}
	}
	if fee := c.Business.FulfillmentFee; fee != nil && *fee < 0 && *fee != FulfillmentDisabled {
		return fmt.Errorf("fulfillment_fee must be non-negative or %d", FulfillmentDisabled)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("rate_limit_burst must be at least 1 when rate limiting is enabled")
	}
	for i, h := range c.Business.PaymentHandlers {
		if h.ID == "" {
			return fmt.Errorf("payment_handlers[%d]: id is required", i)
		}
	}
	return nil
}

// PublicBaseURL returns BaseURL without a trailing slash, defaulting to localhost.
func (c *Config) PublicBaseURL() string {
	base := c.BaseURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%s", c.Port)
	}
	return strings.TrimSuffix(base, "/")
}

// FulfillmentFee returns the configured fee and whether fulfillment is charged.
func (c *Config) FulfillmentFee(defaultFee int64) (int64, bool) {
	fee := c.Business.FulfillmentFee
	if fee == nil {
		return defaultFee, true
	}
	if *fee == FulfillmentDisabled {
		return 0, false
	}
	return *fee, true
}

// BuildBusinessConfig creates the business settings used by the checkout engine.
func (c *Config) BuildBusinessConfig() *model.BusinessConfig {
	baseURL := c.PublicBaseURL()

	handlers := c.Business.PaymentHandlers
	if len(handlers) == 0 {
		handlers = []model.PaymentHandler{model.MockPaymentHandler(model.UCPVersion)}
	}

	return &model.BusinessConfig{
		BaseURL:         baseURL,
		OrderBaseURL:    strings.TrimSuffix(withDefault(c.Business.OrderBaseURL, DefaultOrderBaseURL), "/"),
		UCPVersion:      model.UCPVersion,
		Currency:        withDefault(c.Business.Currency, DefaultCurrency),
		SessionTTL:      c.SessionTTL,
		PolicyLinks:     c.buildPolicyLinks(),
		Services:        buildServices(baseURL),
		Capabilities:    defaultCapabilities(),
		PaymentHandlers: handlers,
	}
}

// buildPolicyLinks converts the policy links map to model.Link slice, sorted
// by type so responses are stable. Always returns a non-nil slice since MCP
// schema validation requires arrays.
func (c *Config) buildPolicyLinks() []model.Link {
	links := make([]model.Link, 0, len(c.Business.PolicyLinks))
	for _, linkType := range slices.Sorted(maps.Keys(c.Business.PolicyLinks)) {
		links = append(links, model.Link{
			Type: model.LinkType(linkType),
			URL:  c.Business.PolicyLinks[linkType],
		})
	}
	return links
}

// buildServices creates the service bindings for the discovery profile.
// Advertises REST and MCP transports for the shopping service.
func buildServices(baseURL string) map[string]model.Service {
	return map[string]model.Service{
		"dev.ucp.shopping": {
			Version: model.UCPVersion,
			Spec:    "https://ucp.dev/specs/shopping",
			REST: &model.ServiceBinding{
				Schema:   "https://ucp.dev/services/shopping/openapi.json",
				Endpoint: baseURL,
			},
			MCP: &model.ServiceBinding{
				Schema:   "https://ucp.dev/services/shopping/mcp.openrpc.json",
				Endpoint: baseURL + "/mcp",
			},
		},
	}
}

// defaultCapabilities returns the capabilities this business supports:
// base checkout and the fulfillment extension.
func defaultCapabilities() []model.CapabilityRef {
	return []model.CapabilityRef{
		model.NewCapabilityRef(model.CapabilityCheckout, model.UCPVersion, ""),
		model.NewCapabilityRef(model.CapabilityFulfillment, model.UCPVersion, model.CapabilityCheckout),
	}
}

// durationOrDefault parses val as a duration, returning def when val is empty.
func durationOrDefault(key, val string, def time.Duration) (time.Duration, error) {
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
