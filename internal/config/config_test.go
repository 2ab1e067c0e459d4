package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("PRICE_PER_KWH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEaseeBaseURL, cfg.Easee.BaseURL)
	assert.Equal(t, 1.0, cfg.PricePerKWh)
	assert.Equal(t, "NOK", cfg.Currency)
	assert.Equal(t, 10*time.Second, cfg.Easee.Timeout)
	assert.False(t, cfg.MQTT.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
http_addr: ":9000"
price_per_kwh: 2.5
currency: EUR
easee:
  timeout: 3s
tariffs:
  CH1: 1.75
mqtt:
  broker: localhost:1883
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CURRENCY", "SEK")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 2.5, cfg.PricePerKWh)
	assert.Equal(t, "SEK", cfg.Currency)
	assert.Equal(t, 3*time.Second, cfg.Easee.Timeout)
	assert.Equal(t, 1.75, cfg.Tariffs["CH1"])
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "ev_invoicing", cfg.MQTT.TopicPrefix)
}

func TestLoad_RejectsUnparseableEnv(t *testing.T) {
	cases := map[string]string{
		"PRICE_PER_KWH": "1,5",
		"SESSION_TTL":   "12 hours",
		"EASEE_TIMEOUT": "ten",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(EnvConfigPath, "")
			t.Setenv(key, value)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate_RejectsNegativePrice(t *testing.T) {
	cfg := Default()
	cfg.PricePerKWh = -1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Tariffs = map[string]float64{"CH1": -0.5}
	require.Error(t, cfg.Validate())
}

func TestSessionKey_GeneratesWhenUnset(t *testing.T) {
	cfg := Default()
	key, generated, err := cfg.SessionKey()
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Len(t, key, 32)

	cfg.SessionSecret = "fixed"
	key, generated, err = cfg.SessionKey()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, []byte("fixed"), key)
}
