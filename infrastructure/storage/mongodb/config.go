// Package mongodb provides a MongoDB-backed run store.
package mongodb

import (
	"errors"
	"time"
)

// Config contains MongoDB connection configuration.
type Config struct {
	// URI is the MongoDB connection string.
	URI string

	// Database is the database name.
	Database string

	// Collection holds the run documents.
	Collection string

	// ConnectTimeout is the timeout for initial connection.
	ConnectTimeout time.Duration

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration

	MaxPoolSize uint64
	MinPoolSize uint64
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "merlin",
		Collection:     "runs",
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   30 * time.Second,
		MaxPoolSize:    20,
		MinPoolSize:    1,
	}
}

// Option configures the MongoDB connection.
type Option func(*Config)

// WithURI sets the MongoDB connection URI.
func WithURI(uri string) Option {
	return func(c *Config) {
		c.URI = uri
	}
}

// WithDatabase sets the database name.
func WithDatabase(db string) Option {
	return func(c *Config) {
		c.Database = db
	}
}

// WithCollection sets the collection name.
func WithCollection(name string) Option {
	return func(c *Config) {
		c.Collection = name
	}
}

// WithConnectTimeout sets the connection timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithQueryTimeout sets the default query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.QueryTimeout = d
	}
}

// Errors
var (
	ErrConnectionFailed = errors.New("mongodb: connection failed")
)
