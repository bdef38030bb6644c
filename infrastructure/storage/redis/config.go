// Package redis stores finished runs in Redis.
package redis

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoAddress indicates a config without a server address.
var ErrNoAddress = errors.New("redis address is required")

// Config holds Redis connection configuration.
type Config struct {
	// Address is the Redis server address (host:port).
	Address  string
	Password string
	DB       int

	// KeyPrefix namespaces run keys and the run index.
	KeyPrefix string

	MaxRetries  int
	DialTimeout time.Duration
	// IOTimeout bounds every socket read and write.
	IOTimeout time.Duration
	PoolSize  int
}

// DefaultConfig returns the config used for a local Redis.
func DefaultConfig() Config {
	return Config{
		Address:     "localhost:6379",
		KeyPrefix:   "merlin:",
		MaxRetries:  3,
		DialTimeout: 5 * time.Second,
		IOTimeout:   3 * time.Second,
		PoolSize:    4,
	}
}

// ConfigOption configures the Redis connection. Options given a zero value
// keep the current setting.
type ConfigOption func(*Config)

// WithAddress sets the Redis server address.
func WithAddress(addr string) ConfigOption {
	return func(c *Config) {
		if addr != "" {
			c.Address = addr
		}
	}
}

// WithPassword sets the authentication password.
func WithPassword(password string) ConfigOption {
	return func(c *Config) {
		if password != "" {
			c.Password = password
		}
	}
}

// WithDB selects the database index.
func WithDB(db int) ConfigOption {
	return func(c *Config) {
		if db > 0 {
			c.DB = db
		}
	}
}

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		if prefix != "" {
			c.KeyPrefix = prefix
		}
	}
}

func (c Config) clientOptions() (*redis.Options, error) {
	if c.Address == "" {
		return nil, ErrNoAddress
	}
	return &redis.Options{
		Addr:         c.Address,
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.IOTimeout,
		WriteTimeout: c.IOTimeout,
		PoolSize:     c.PoolSize,
	}, nil
}
