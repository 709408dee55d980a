package ldapwire

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"time"
)

// Config contains the configuration for a Client and its connections.
type Config struct {
	// Address is the server's host:port.
	Address string
	// BindDN and BindPassword are the simple bind credentials used for
	// the connection handshake. Leave BindDN empty for anonymous use.
	BindDN       string
	BindPassword string
	// TLSConfig enables TLS on dialed connections when non-nil.
	TLSConfig *tls.Config

	// DialTimeout is the timeout for establishing new connections
	// (default: 30s).
	DialTimeout time.Duration
	// WriteTimeout bounds a single request write (default: 30s).
	WriteTimeout time.Duration
	// OperationTimeout bounds the wait for an operation's result
	// (default: 60s). An elapsed operation timeout is connection-fatal.
	OperationTimeout time.Duration

	// Pool configures the connection pool; nil uses DefaultPoolConfig.
	Pool *PoolConfig
	// Logger is the structured logger for engine events; nil uses
	// slog.Default.
	Logger *slog.Logger
	// Classifier overrides the result-code classification table; nil uses
	// DefaultResultClassifier.
	Classifier ResultClassifier
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}
	if c.Address == "" {
		return errors.New("server address cannot be empty")
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 60 * time.Second
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) classifier() ResultClassifier {
	if c.Classifier != nil {
		return c.Classifier
	}
	return DefaultResultClassifier
}
