package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
database:
  driver: memory
bot:
  token: "123:abc"
  admin_id: 42
payment:
  merchant_id: "777"
  secret1: s1
  secret2: s2
  allowed_ips:
    - 168.119.157.136
`

func writeConfig(t *testing.T, body string) *viper.Viper {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	return v
}

func TestLoadFrom_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, int64(42), cfg.Bot.AdminID)
	assert.Equal(t, 1, cfg.Limits.MaxRegular)
	assert.Equal(t, 10, cfg.Limits.MaxPremium)
	assert.Equal(t, time.Hour, cfg.Limits.Window)
	assert.Equal(t, "RUB", cfg.Payment.Currency)
	assert.Equal(t, 30, cfg.Payment.PremiumDays)
	assert.Equal(t, 30*time.Minute, cfg.Payment.LinkTTL)
	assert.Equal(t, "/payment_webhook", cfg.Payment.WebhookPath)
	assert.Equal(t, 5, cfg.Queue.MaxInFlight)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.Interval)
	assert.Equal(t, "ru", cfg.Bot.Lang)
	assert.Equal(t, []string{"168.119.157.136"}, cfg.Payment.AllowedIPs)
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	t.Setenv("PAYMENT_SECRET2", "from-env")
	t.Setenv("QUEUE_MAX_IN_FLIGHT", "9")

	cfg, err := LoadFrom(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Payment.Secret2)
	assert.Equal(t, 9, cfg.Queue.MaxInFlight)
}

func TestLoadFrom_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing secrets",
			body: `
database:
  driver: memory
bot:
  token: "123:abc"
payment:
  merchant_id: "777"
`,
		},
		{
			name: "postgres without host",
			body: `
database:
  driver: postgres
bot:
  token: "123:abc"
payment:
  merchant_id: "777"
  secret1: s1
  secret2: s2
`,
		},
		{
			name: "premium quota below regular",
			body: minimalYAML + `
limits:
  max_regular: 5
  max_premium: 2
`,
		},
		{
			name: "bad allowlist entry",
			body: `
database:
  driver: memory
bot:
  token: "123:abc"
payment:
  merchant_id: "777"
  secret1: s1
  secret2: s2
  allowed_ips:
    - not-an-ip
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validate config")
		})
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	dsn := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "premium", SSLMode: "disable"}.DSN()
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=premium sslmode=disable", dsn)
}
