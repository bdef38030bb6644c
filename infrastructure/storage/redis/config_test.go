package redis

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.Address != "localhost:6379" {
		t.Errorf("Address = %s, want localhost:6379", cfg.Address)
	}
	if cfg.KeyPrefix != "merlin:" {
		t.Errorf("KeyPrefix = %s, want merlin:", cfg.KeyPrefix)
	}
	if cfg.DialTimeout != 5*time.Second || cfg.IOTimeout != 3*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.DialTimeout, cfg.IOTimeout)
	}
}

func TestConfigOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []ConfigOption
		want func(Config) Config
	}{
		{
			name: "all set",
			opts: []ConfigOption{WithAddress("redis.internal:6380"), WithPassword("p@ss"), WithDB(2), WithKeyPrefix("ci:")},
			want: func(c Config) Config {
				c.Address, c.Password, c.DB, c.KeyPrefix = "redis.internal:6380", "p@ss", 2, "ci:"
				return c
			},
		},
		{
			name: "zero values keep defaults",
			opts: []ConfigOption{WithAddress(""), WithPassword(""), WithDB(0), WithKeyPrefix("")},
			want: func(c Config) Config { return c },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			for _, opt := range tt.opts {
				opt(&cfg)
			}
			if want := tt.want(DefaultConfig()); cfg != want {
				t.Errorf("cfg = %+v, want %+v", cfg, want)
			}
		})
	}
}

func TestConfig_ClientOptions(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	WithDB(3)(&cfg)

	opts, err := cfg.clientOptions()
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 3 {
		t.Errorf("Addr/DB = %s/%d", opts.Addr, opts.DB)
	}
	if opts.ReadTimeout != cfg.IOTimeout || opts.WriteTimeout != cfg.IOTimeout {
		t.Errorf("read/write timeouts = %v/%v, want %v", opts.ReadTimeout, opts.WriteTimeout, cfg.IOTimeout)
	}

	if _, err := (Config{}).clientOptions(); !errors.Is(err, ErrNoAddress) {
		t.Errorf("clientOptions() without address error = %v, want ErrNoAddress", err)
	}
	if _, err := NewRunStore(Config{}); !errors.Is(err, ErrNoAddress) {
		t.Errorf("NewRunStore() without address error = %v, want ErrNoAddress", err)
	}
}
