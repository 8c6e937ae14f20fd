package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv(envDatabaseURL, "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envDatabaseURL, "postgres://localhost/merchant")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, "KUDOS", cfg.Currency)
}

func TestAuditorsFromEnv(t *testing.T) {
	t.Setenv(envDatabaseURL, "postgres://localhost/merchant")
	t.Setenv("AUDITOR_0_NAME", "Alice")
	t.Setenv("AUDITOR_0_URI", "https://auditor.example/")
	t.Setenv("AUDITOR_0_PUBLIC_KEY", "ABCDEF")
	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Auditors, 1)
	require.Equal(t, "Alice", cfg.Auditors[0].Name)
}

func TestValidateRequiresAuditorsWhenRequired(t *testing.T) {
	cfg := &Config{DatabaseURL: "x", Currency: "KUDOS", RequireAuditing: true}
	require.Error(t, Validate(cfg))
	cfg.Auditors = []Auditor{{Name: "a"}}
	require.NoError(t, Validate(cfg))
}

func TestValidateDuplicateExchange(t *testing.T) {
	cfg := &Config{DatabaseURL: "x", Currency: "KUDOS", Exchanges: []ExchangeTrust{
		{URL: "https://ex"}, {URL: "https://ex"},
	}}
	require.Error(t, Validate(cfg))
}
