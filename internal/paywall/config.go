package paywall

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the paywall service.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	BaseURL             string // success/cancel redirect base, e.g. "https://rentpeek.example.com"
	StripeAPIKey        string
	StripeWebhookSecret string
}

// LoadConfig loads service configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("RENTPEEK_PORT", 8090)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("RENTPEEK_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("RENTPEEK_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("RENTPEEK_ADMIN_KEY")),
		BaseURL:             strings.TrimSpace(os.Getenv("RENTPEEK_BASE_URL")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate paywall config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// No defaults for the secrets: a missing webhook secret must fail closed,
	// never fall back to "no verification".
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "RENTPEEK_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "RENTPEEK_BASE_URL")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("RENTPEEK_PORT must be between 1 and 65535, got %d", c.Port)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("RENTPEEK_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("RENTPEEK_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("RENTPEEK_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}
