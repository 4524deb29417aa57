package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.DepositTimeout)
	assert.Equal(t, int64(1_000_000), cfg.LargeTransactionThreshold)
	assert.Equal(t, domain.DefaultTierTable(), cfg.TierTable)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  http_port: 8181
dependencies:
  kafka:
    brokers: [kafka-1:9092]
escrow:
  deposit_timeout_hours: 48
tiers:
  - tier: gold
    min_completed_jobs: 1
    rate_bps: 900
schedule:
  monthly_report: ""
`)
	t.Setenv("HTTP_PORT", "8282")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8282, cfg.HTTPPort)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 48*time.Hour, cfg.DepositTimeout)
	require.Len(t, cfg.TierTable, 1)
	assert.Equal(t, int64(900), cfg.TierTable[0].RateBps)
	assert.Empty(t, cfg.CronMonthlyReport)
	assert.Equal(t, "*/5 * * * *", cfg.CronExpireQRCodes)
}

func TestLoadConfigValidation(t *testing.T) {
	path := writeConfig(t, "auth:\n  allow_ephemeral_jwt: false\n")
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("GATEWAY_BASE_URL", "https://gateway.example")
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "GATEWAY_SECRET_KEY")

	bad := writeConfig(t, "tiers:\n  - tier: gold\n    rate_bps: 20000\n")
	t.Setenv("GATEWAY_BASE_URL", "")
	_, err = LoadConfig(bad)
	require.Error(t, err)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "service: [unclosed"))
	require.ErrorContains(t, err, "parse config file")
}

func TestTopicMap(t *testing.T) {
	assert.Nil(t, topicMap(""))
	m := topicMap("prod.")
	assert.Equal(t, "prod.escrow.released", m[domain.EventEscrowReleased])
}
