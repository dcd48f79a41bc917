package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionManager owns the single AMQP connection of a process.
//
// A lost connection is not re-established: consumers observe their delivery
// channel closing and return, and restarting is left to the supervisor.
type ConnectionManager struct {
	url         string
	name        string
	dialTimeout time.Duration
	logger      *slog.Logger
	dial        func(url string, cfg amqp.Config) (*amqp.Connection, error)

	mu   sync.RWMutex
	conn *amqp.Connection
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		if logger != nil {
			cm.logger = logger
		}
	}
}

// WithDialTimeout bounds the TCP dial and AMQP handshake
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithConnectionName sets the connection name shown in the management UI
func WithConnectionName(name string) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.name = name
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:         url,
		name:        "retryq",
		dialTimeout: 30 * time.Second,
		logger:      slog.Default(),
		dial:        amqp.DialConfig,
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the connection. Calling it while connected is a no-op.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn != nil && !cm.conn.IsClosed() {
		return nil
	}

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	results := make(chan dialResult, 1)

	go func() {
		conn, err := cm.dial(cm.url, cm.amqpConfig())
		results <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return &ConnectionError{
				Op:        "connect",
				URL:       SanitizeURL(cm.url),
				Err:       res.err,
				Timestamp: time.Now(),
				Attempts:  1,
			}
		}

		cm.conn = res.conn
		go cm.watch(res.conn.NotifyClose(make(chan *amqp.Error, 1)))

		cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
		return nil

	case <-ctx.Done():
		// Close a connection that completes after we gave up on it.
		go func() {
			if res := <-results; res.conn != nil {
				res.conn.Close()
			}
		}()
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err()),
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}
}

func (cm *ConnectionManager) amqpConfig() amqp.Config {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(cm.name)
	return amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(cm.dialTimeout),
		Properties: props,
	}
}

// watch logs an unexpected connection loss
func (cm *ConnectionManager) watch(closes <-chan *amqp.Error) {
	err, ok := <-closes
	if ok && err != nil {
		cm.logger.Error("connection to RabbitMQ lost",
			"error", err,
			"url", SanitizeURL(cm.url))
	}
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn != nil && !cm.conn.IsClosed()
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn == nil {
		return nil
	}

	conn := cm.conn
	cm.conn = nil
	if conn.IsClosed() {
		return nil
	}

	cm.logger.Info("closing RabbitMQ connection")
	return conn.Close()
}
