package ldapwire

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLogger sets a custom structured logger for engine events.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	client, err := ldapwire.New(&config, ldapwire.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
			c.config.Logger = logger
		}
	}
}

// WithTLS configures TLS for dialed connections.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *Client) {
		if tlsConfig != nil {
			c.config.TLSConfig = tlsConfig
		}
	}
}

// WithTimeout sets the per-operation result timeout. An elapsed timeout
// is connection-fatal and triggers the one-retry path.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.OperationTimeout = timeout
		}
	}
}

// WithPoolConfig sets the connection pool configuration.
//
// Example:
//
//	client, err := ldapwire.New(&config, ldapwire.WithPoolConfig(&ldapwire.PoolConfig{
//		MaxConnections:  20,
//		CheckoutTimeout: 5 * time.Second,
//	}))
func WithPoolConfig(poolConfig *PoolConfig) Option {
	return func(c *Client) {
		if poolConfig != nil {
			c.config.Pool = poolConfig
		}
	}
}

// WithResultClassifier overrides the table that classifies result codes
// into success, connection-usable and connection-fatal. The classifier
// decides retry eligibility, so an override changes which failures replace
// the connection and retry once.
func WithResultClassifier(classifier ResultClassifier) Option {
	return func(c *Client) {
		if classifier != nil {
			c.config.Classifier = classifier
		}
	}
}
