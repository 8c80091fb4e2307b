package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, "relay:\n  agent_secret: 0123456789abcdef\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 30*time.Second, c.Relay.DefaultDeadline)
	assert.Equal(t, 500*time.Millisecond, c.Relay.ChainPerContract)
	assert.Equal(t, []string{"C", "P"}, c.Scan.Rights)
	assert.Equal(t, 0.9, c.Scan.DealProbability)
	assert.Equal(t, "arbrelay.orders", c.Kafka.Topics.Orders)
	assert.Equal(t, "localhost:6379", c.Redis.Redis.Addr)
	assert.NoError(t, c.ValidateRelay())
}

func TestYAMLOverridesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, `
scan:
  batch_size: 25
  rights: [C]
broker:
  mode: gateway
  url: ws://bridge:7497/ws
`))
	require.NoError(t, err)
	assert.Equal(t, 25, c.Scan.BatchSize)
	assert.Equal(t, []string{"C"}, c.Scan.Rights)
	assert.Equal(t, "ws://bridge:7497/ws", c.Broker.GatewayURL())
}

func TestEnvOverrides(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	env := map[string]string{
		"RELAY_API_KEY":    "k1, k2",
		"AGENT_USER_ID":    "alice",
		"BROKER_PORT":      "7497",
		"KAFKA_BROKERS":    "kafka-1:9092,kafka-2:9092",
		"REDIS_ADDR":       "redis:6379",
		"AGENT_AUTH_TOKEN": "tok",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"k1", "k2"}, c.Relay.APIKeys)
	assert.Equal(t, "alice", c.Agent.UserID)
	assert.Equal(t, "ws://127.0.0.1:7497/", c.Broker.GatewayURL())
	assert.True(t, c.Kafka.Enabled)
	assert.Len(t, c.Kafka.Brokers, 2)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Redis.Addr)
}

func TestValidatePerBinary(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.ErrorContains(t, c.ValidateRelay(), "relay:")
	assert.ErrorContains(t, c.ValidateAgent(), "agent:")
	assert.ErrorContains(t, c.ValidateArchiver(), "kafka")

	c.Relay.AgentSecret = "0123456789abcdef"
	assert.NoError(t, c.ValidateRelay())

	c.Agent.UserID, c.Agent.AuthToken = "alice", "tok"
	assert.NoError(t, c.ValidateAgent())

	c.Scan.DealProbability = 1.5
	assert.ErrorContains(t, c.ValidateAgent(), "scan:")
}

func TestArchiverOnRedisBusNeedsNoKafka(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	c.applyEnv(func(k string) string {
		return map[string]string{"BUS_BACKEND": "redis", "CLICKHOUSE_HOST": "ch"}[k]
	})
	assert.Equal(t, "arbrelay:bus", c.Bus.Queue.KeyPrefix)
	assert.NoError(t, c.ValidateArchiver())
}

func TestShortBandSidesAreIndependent(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	c.Agent.UserID, c.Agent.AuthToken = "alice", "tok"

	c.Scan.ShortBandLowerPct, c.Scan.ShortBandUpperPct = 0.30, 0.10
	assert.NoError(t, c.ValidateAgent())

	c.Scan.ShortBandUpperPct = -0.05
	assert.ErrorContains(t, c.ValidateAgent(), "scan:")
}
