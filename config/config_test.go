package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "main_queue", cfg.Queues.Main)
	assert.Equal(t, "dlx_exchange", cfg.Queues.DeadLetterExchange)
	assert.Equal(t, 1000, cfg.Queues.MaxLength)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 10, cfg.Consumer.Prefetch)
	assert.False(t, cfg.Publisher.Confirms)
}

func TestLoad(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("reads yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "retryq.yaml")
		content := `
broker:
  host: rabbit.internal
  port: 5673
  dial_timeout: 5s
queues:
  main: orders
  dead_letter: orders.dlq
  max_length: 50
retry:
  max_retries: 3
publisher:
  confirms: true
  rate: 20
  burst: 5
log:
  format: json
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "rabbit.internal", cfg.Broker.Host)
		assert.Equal(t, 5673, cfg.Broker.Port)
		assert.Equal(t, 5*time.Second, cfg.Broker.DialTimeout)
		assert.Equal(t, "orders", cfg.Queues.Main)
		assert.Equal(t, "orders.dlq", cfg.Queues.DeadLetter)
		assert.Equal(t, "dlx_exchange", cfg.Queues.DeadLetterExchange)
		assert.Equal(t, 50, cfg.Queues.MaxLength)
		assert.Equal(t, 3, cfg.Retry.MaxRetries)
		assert.True(t, cfg.Publisher.Confirms)
		assert.Equal(t, 20.0, cfg.Publisher.Rate)
		assert.Equal(t, 5, cfg.Publisher.Burst)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, "guest", cfg.Broker.Username)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("RETRYQ_BROKER_HOST", "mq")
		t.Setenv("RETRYQ_RETRY_MAX_RETRIES", "7")
		t.Setenv("RETRYQ_PUBLISHER_TIMEOUT", "3s")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "mq", cfg.Broker.Host)
		assert.Equal(t, 7, cfg.Retry.MaxRetries)
		assert.Equal(t, 3*time.Second, cfg.Publisher.Timeout)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		t.Setenv("RETRYQ_RETRY_MAX_RETRIES", "0")

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry.max_retries")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty host", func(c *Config) { c.Broker.Host = "" }, "broker.host"},
		{"bad port", func(c *Config) { c.Broker.Port = 0 }, "broker.port"},
		{"negative connect retries", func(c *Config) { c.Broker.ConnectRetries = -1 }, "broker.connect_retries"},
		{"empty main queue", func(c *Config) { c.Queues.Main = "" }, "queues.main"},
		{"empty dlq", func(c *Config) { c.Queues.DeadLetter = "" }, "queues.dead_letter"},
		{"empty dlx", func(c *Config) { c.Queues.DeadLetterExchange = "" }, "queues.dead_letter_exchange"},
		{"same queues", func(c *Config) { c.Queues.DeadLetter = c.Queues.Main }, "must differ"},
		{"zero max length", func(c *Config) { c.Queues.MaxLength = 0 }, "queues.max_length"},
		{"max length beyond int32", func(c *Config) { c.Queues.MaxLength = math.MaxInt32 + 1 }, "queues.max_length"},
		{"max length wrapping to a small bound", func(c *Config) { c.Queues.MaxLength = 1<<32 + 1000 }, "queues.max_length"},
		{"zero retries", func(c *Config) { c.Retry.MaxRetries = 0 }, "retry.max_retries"},
		{"negative rate", func(c *Config) { c.Publisher.Rate = -1 }, "publisher.rate"},
		{"rate without burst", func(c *Config) { c.Publisher.Rate = 1; c.Publisher.Burst = 0 }, "publisher.burst"},
		{"breaker without timeout", func(c *Config) { c.Publisher.Breaker.ResetTimeout = 0 }, "reset_timeout"},
		{"negative prefetch", func(c *Config) { c.Consumer.Prefetch = -1 }, "consumer.prefetch"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestBrokerURL(t *testing.T) {
	b := BrokerConfig{
		Host:     "rabbit",
		Port:     5673,
		Username: "app",
		Password: "s3cret",
		VHost:    "jobs",
	}

	uri, err := amqp.ParseURI(b.URL())
	require.NoError(t, err)
	assert.Equal(t, "rabbit", uri.Host)
	assert.Equal(t, 5673, uri.Port)
	assert.Equal(t, "app", uri.Username)
	assert.Equal(t, "s3cret", uri.Password)
	assert.Equal(t, "jobs", uri.Vhost)

	def, err := amqp.ParseURI(Default().Broker.URL())
	require.NoError(t, err)
	assert.Equal(t, "/", def.Vhost)
	assert.Equal(t, 5672, def.Port)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	redacted := cfg.Redacted()

	assert.Equal(t, "***", redacted.Broker.Password)
	assert.Equal(t, "guest", cfg.Broker.Password)
}
