// Package dynamodb provides a DynamoDB-backed run store.
package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Config contains DynamoDB connection configuration.
type Config struct {
	// Region is the AWS region.
	Region string

	// Endpoint overrides the service endpoint (DynamoDB Local, LocalStack).
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials; when empty
	// the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// TableName is the runs table.
	TableName string

	// QueryTimeout is the default timeout for requests.
	QueryTimeout time.Duration

	// CreateTable creates the runs table if it doesn't exist.
	CreateTable bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Region:       "us-east-1",
		TableName:    "merlin_runs",
		QueryTimeout: 30 * time.Second,
		CreateTable:  true,
	}
}

// Option configures the DynamoDB connection.
type Option func(*Config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets the DynamoDB endpoint (for local development).
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithStaticCredentials uses fixed credentials instead of the default chain.
func WithStaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(c *Config) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
	}
}

// WithTableName sets the runs table name.
func WithTableName(name string) Option {
	return func(c *Config) {
		c.TableName = name
	}
}

// WithQueryTimeout sets the default request timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.QueryTimeout = d
	}
}

// Errors
var (
	ErrConnectionFailed = errors.New("dynamodb: connection failed")
)

// newClient builds a DynamoDB client from the configuration.
func newClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	var ddbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return dynamodb.NewFromConfig(awsCfg, ddbOpts...), nil
}
