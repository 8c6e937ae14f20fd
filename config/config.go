// Package config resolves the merchant backend's runtime configuration from
// environment variables, with an optional YAML overlay file for local/dev
// use — the same two-source pattern the teacher's gateway config package
// uses (env-first defaults, YAML decode on top).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envListen        = "MERCHANT_LISTEN"
	envDatabaseURL   = "MERCHANT_DATABASE_URL"
	envCurrency      = "MERCHANT_CURRENCY"
	envKeyDir        = "MERCHANT_KEY_DIR"
	envKeyLookahead  = "MERCHANT_KEY_LOOKAHEAD"
	envConfigFile    = "MERCHANT_CONFIG_FILE"
	envBindMetrics   = "MERCHANT_METRICS_LISTEN"
	envJWTSecret     = "MERCHANT_JWT_SECRET"
	envRequireAudit  = "MERCHANT_REQUIRE_AUDITORS"
)

// Auditor is a trusted third party co-signing exchange denominations
// (spec §3 Key-State Manager, "Auditor trust").
type Auditor struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	PublicKey string `yaml:"publicKey"`
}

// ExchangeTrust records whether the backend is configured to trust a given
// exchange's master key out of the box (vs. only learning it dynamically).
type ExchangeTrust struct {
	URL       string `yaml:"url"`
	MasterPub string `yaml:"masterPublicKey"`
	Trusted   bool   `yaml:"trusted"`
}

// Config is the fully resolved runtime configuration for the merchant
// backend process.
type Config struct {
	ListenAddress    string          `yaml:"listen"`
	MetricsAddress   string          `yaml:"metricsListen"`
	DatabaseURL      string          `yaml:"databaseUrl"`
	Currency         string          `yaml:"currency"`
	KeyDir           string          `yaml:"keyDir"`
	KeyLookahead     time.Duration   `yaml:"keyLookahead"`
	RequireAuditing  bool            `yaml:"requireAuditing"`
	JWTSecret        string          `yaml:"jwtSecret"`
	Auditors         []Auditor       `yaml:"auditors"`
	Exchanges        []ExchangeTrust `yaml:"exchanges"`
}

// Load resolves configuration from environment variables and, if
// MERCHANT_CONFIG_FILE is set, merges in a YAML document for the
// list-valued fields (auditors, exchanges) that are awkward to express as
// flat env vars.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddress:  getenvDefault(envListen, ":8080"),
		MetricsAddress: getenvDefault(envBindMetrics, ":9090"),
		DatabaseURL:    os.Getenv(envDatabaseURL),
		Currency:       getenvDefault(envCurrency, "KUDOS"),
		KeyDir:         getenvDefault(envKeyDir, "./var/instance-keys"),
		KeyLookahead:   parseDurationDefault(envKeyLookahead, 7*24*time.Hour),
		RequireAuditing: parseBoolDefault(envRequireAudit, false),
		JWTSecret:      os.Getenv(envJWTSecret),
	}

	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		if err := mergeYAMLFile(cfg, path); err != nil {
			return nil, err
		}
	}
	cfg.Auditors = append(cfg.Auditors, auditorsFromEnv()...)
	cfg.Exchanges = append(cfg.Exchanges, exchangesFromEnv()...)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeYAMLFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if overlay.ListenAddress != "" {
		cfg.ListenAddress = overlay.ListenAddress
	}
	if overlay.DatabaseURL != "" {
		cfg.DatabaseURL = overlay.DatabaseURL
	}
	if overlay.Currency != "" {
		cfg.Currency = overlay.Currency
	}
	cfg.Auditors = append(cfg.Auditors, overlay.Auditors...)
	cfg.Exchanges = append(cfg.Exchanges, overlay.Exchanges...)
	return nil
}

// auditorsFromEnv parses repeated AUDITOR_<N>_NAME/URI/PUBLIC_KEY groups,
// per spec §6 ("auditor entries auditor-* with (NAME, URI, PUBLIC_KEY)").
func auditorsFromEnv() []Auditor {
	var out []Auditor
	for i := 0; ; i++ {
		name := os.Getenv(fmt.Sprintf("AUDITOR_%d_NAME", i))
		uri := os.Getenv(fmt.Sprintf("AUDITOR_%d_URI", i))
		pub := os.Getenv(fmt.Sprintf("AUDITOR_%d_PUBLIC_KEY", i))
		if name == "" && uri == "" && pub == "" {
			break
		}
		out = append(out, Auditor{Name: name, URL: uri, PublicKey: pub})
	}
	return out
}

// exchangesFromEnv parses repeated EXCHANGE_<N>_URL/MASTER_PUB/TRUSTED groups.
func exchangesFromEnv() []ExchangeTrust {
	var out []ExchangeTrust
	for i := 0; ; i++ {
		url := os.Getenv(fmt.Sprintf("EXCHANGE_%d_URL", i))
		master := os.Getenv(fmt.Sprintf("EXCHANGE_%d_MASTER_PUB", i))
		if url == "" && master == "" {
			break
		}
		trusted := parseBoolDefault(fmt.Sprintf("EXCHANGE_%d_TRUSTED", i), true)
		out = append(out, ExchangeTrust{URL: url, MasterPub: master, Trusted: trusted})
	}
	return out
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func parseDurationDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func parseBoolDefault(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
