package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimal = `
curve:
  initial_price: "100"
  slope: "1"
`

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "lnb", cfg.Token.Symbol)
	assert.Equal(t, uint32(DefaultReferralCutBps), cfg.ReferralCutBps)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "market-events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, 100, cfg.Log.MaxSize)

	mc, err := cfg.MarketConfig()
	require.NoError(t, err)
	assert.Equal(t, "100", mc.InitialPrice.String())
	assert.Equal(t, "1", mc.Slope.String())
	assert.Equal(t, uint32(500), mc.ReferralCutBps)
}

func TestLoadConfig_FileValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
token:
  name: test token
  symbol: tt
  decimals: 9
curve:
  initial_price: "1000000000"
  slope: "3"
referral_cut_bps: 250
kafka:
  brokers: ["localhost:9092"]
  topic: trades
database:
  driver: postgres
  dsn: postgres://market@localhost/market
log:
  development: true
`))
	require.NoError(t, err)

	info := cfg.TokenInfo()
	assert.Equal(t, "test token", info.Name)
	assert.Equal(t, uint8(9), info.Decimals)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.LoggerConfig().Development)
	assert.Equal(t, uint32(250), cfg.ReferralCutBps)
}

func TestLoadConfig_Env(t *testing.T) {
	path := writeConfig(t, minimal)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"),
		[]byte("NEBULA_MARKET_KAFKA_BROKERS=a:9092, b:9092\n"), 0644))
	t.Setenv("NEBULA_MARKET_REFERRAL_CUT_BPS", "100")
	t.Cleanup(func() { os.Unsetenv("NEBULA_MARKET_KAFKA_BROKERS") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), cfg.ReferralCutBps)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing curve", "token:\n  symbol: x\n", "curve.initial_price"},
		{"zero slope", "curve:\n  initial_price: \"1\"\n  slope: \"0\"\n", "must be positive"},
		{"bad driver", minimal + "database:\n  driver: mysql\n", "unsupported database.driver"},
		{"referral above 100%", minimal + "referral_cut_bps: 10001\n", "referral_cut_bps"},
		{"negative retries", minimal + "retries: -1\n", "retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
