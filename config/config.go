// Package config loads retryq configuration from defaults, an optional YAML
// file and RETRYQ_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. RETRYQ_BROKER_HOST.
const EnvPrefix = "RETRYQ"

// Config is the complete retryq configuration
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	Queues    QueueConfig     `mapstructure:"queues" yaml:"queues"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Publisher PublisherConfig `mapstructure:"publisher" yaml:"publisher"`
	Consumer  ConsumerConfig  `mapstructure:"consumer" yaml:"consumer"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// BrokerConfig holds the RabbitMQ connection settings
type BrokerConfig struct {
	Host        string        `mapstructure:"host" yaml:"host"`
	Port        int           `mapstructure:"port" yaml:"port"`
	Username    string        `mapstructure:"username" yaml:"username"`
	Password    string        `mapstructure:"password" yaml:"password"`
	VHost       string        `mapstructure:"vhost" yaml:"vhost"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	// ConnectRetries is how many times a failed initial dial is retried
	ConnectRetries int `mapstructure:"connect_retries" yaml:"connect_retries"`
}

// QueueConfig names the pipeline topology
type QueueConfig struct {
	Main               string `mapstructure:"main" yaml:"main"`
	DeadLetter         string `mapstructure:"dead_letter" yaml:"dead_letter"`
	DeadLetterExchange string `mapstructure:"dead_letter_exchange" yaml:"dead_letter_exchange"`
	MaxLength          int    `mapstructure:"max_length" yaml:"max_length"`
}

// RetryConfig bounds automatic retries
type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// PublisherConfig tunes publishing
type PublisherConfig struct {
	Confirms bool          `mapstructure:"confirms" yaml:"confirms"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Rate is the number of new work items published per second; 0 disables limiting.
	Rate    float64       `mapstructure:"rate" yaml:"rate"`
	Burst   int           `mapstructure:"burst" yaml:"burst"`
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// BreakerConfig configures the publish circuit breaker. A zero threshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

// ConsumerConfig tunes both consumers
type ConsumerConfig struct {
	Prefetch int    `mapstructure:"prefetch" yaml:"prefetch"`
	Tag      string `mapstructure:"tag" yaml:"tag"`
}

// AuditConfig locates the dead-letter audit store
type AuditConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           5672,
			Username:       "guest",
			Password:       "guest",
			VHost:          "/",
			DialTimeout:    30 * time.Second,
			ConnectRetries: 3,
		},
		Queues: QueueConfig{
			Main:               "main_queue",
			DeadLetter:         "dead_letter_queue",
			DeadLetterExchange: "dlx_exchange",
			MaxLength:          1000,
		},
		Retry: RetryConfig{
			MaxRetries: 5,
		},
		Publisher: PublisherConfig{
			Timeout: 10 * time.Second,
			Burst:   1,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Consumer: ConsumerConfig{
			Prefetch: 10,
		},
		Audit: AuditConfig{
			Path: "./data/audit",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("broker.host", d.Broker.Host)
	v.SetDefault("broker.port", d.Broker.Port)
	v.SetDefault("broker.username", d.Broker.Username)
	v.SetDefault("broker.password", d.Broker.Password)
	v.SetDefault("broker.vhost", d.Broker.VHost)
	v.SetDefault("broker.dial_timeout", d.Broker.DialTimeout)
	v.SetDefault("broker.connect_retries", d.Broker.ConnectRetries)

	v.SetDefault("queues.main", d.Queues.Main)
	v.SetDefault("queues.dead_letter", d.Queues.DeadLetter)
	v.SetDefault("queues.dead_letter_exchange", d.Queues.DeadLetterExchange)
	v.SetDefault("queues.max_length", d.Queues.MaxLength)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)

	v.SetDefault("publisher.confirms", d.Publisher.Confirms)
	v.SetDefault("publisher.timeout", d.Publisher.Timeout)
	v.SetDefault("publisher.rate", d.Publisher.Rate)
	v.SetDefault("publisher.burst", d.Publisher.Burst)
	v.SetDefault("publisher.breaker.failure_threshold", d.Publisher.Breaker.FailureThreshold)
	v.SetDefault("publisher.breaker.reset_timeout", d.Publisher.Breaker.ResetTimeout)

	v.SetDefault("consumer.prefetch", d.Consumer.Prefetch)
	v.SetDefault("consumer.tag", d.Consumer.Tag)

	v.SetDefault("audit.path", d.Audit.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return errors.New("broker.host cannot be empty")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535, got %d", c.Broker.Port)
	}
	if c.Broker.DialTimeout <= 0 {
		return errors.New("broker.dial_timeout must be positive")
	}
	if c.Broker.ConnectRetries < 0 {
		return errors.New("broker.connect_retries cannot be negative")
	}

	if c.Queues.Main == "" {
		return errors.New("queues.main cannot be empty")
	}
	if c.Queues.DeadLetter == "" {
		return errors.New("queues.dead_letter cannot be empty")
	}
	if c.Queues.DeadLetterExchange == "" {
		return errors.New("queues.dead_letter_exchange cannot be empty")
	}
	if c.Queues.Main == c.Queues.DeadLetter {
		return fmt.Errorf("queues.main and queues.dead_letter must differ, both are %q", c.Queues.Main)
	}
	if c.Queues.MaxLength < 1 || c.Queues.MaxLength > math.MaxInt32 {
		return fmt.Errorf("queues.max_length must be between 1 and %d, got %d", math.MaxInt32, c.Queues.MaxLength)
	}

	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}

	if c.Publisher.Timeout <= 0 {
		return errors.New("publisher.timeout must be positive")
	}
	if c.Publisher.Rate < 0 {
		return errors.New("publisher.rate cannot be negative")
	}
	if c.Publisher.Rate > 0 && c.Publisher.Burst < 1 {
		return errors.New("publisher.burst must be at least 1 when publisher.rate is set")
	}
	if c.Publisher.Breaker.FailureThreshold < 0 {
		return errors.New("publisher.breaker.failure_threshold cannot be negative")
	}
	if c.Publisher.Breaker.FailureThreshold > 0 && c.Publisher.Breaker.ResetTimeout <= 0 {
		return errors.New("publisher.breaker.reset_timeout must be positive")
	}

	if c.Consumer.Prefetch < 0 {
		return errors.New("consumer.prefetch cannot be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// URL builds the AMQP connection URI
func (b BrokerConfig) URL() string {
	vhost := b.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     b.Host,
		Port:     b.Port,
		Username: b.Username,
		Password: b.Password,
		Vhost:    vhost,
	}.String()
}

// Redacted returns a copy safe for printing
func (c Config) Redacted() Config {
	if c.Broker.Password != "" {
		c.Broker.Password = "***"
	}
	return c
}
