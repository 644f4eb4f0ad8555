// Package config reads daemon and client settings from TYPEDRPC_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"typed-rpc/codec"
)

const Prefix = "TYPEDRPC_"

type Config struct {
	// Listeners. "off" disables a listener.
	Addr      string `env:"ADDR" envDefault:":7070"`      // Framed TCP
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":7071"` // HTTP, WebSocket and JSON-RPC handlers
	GRPCAddr  string `env:"GRPC_ADDR" envDefault:":7072"`
	Advertise string `env:"ADVERTISE"` // Routable TCP address registered in discovery

	Codec codec.CodecType `env:"CODEC" envDefault:"json"`

	// Discovery; no endpoints means no advertising.
	EtcdEndpoints []string      `env:"ETCD_ENDPOINTS" envSeparator:","`
	Balancer      string        `env:"BALANCER" envDefault:"round_robin"`
	PoolSize      int           `env:"POOL_SIZE" envDefault:"4"` // Idle transports kept per instance
	DialTimeout   time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`

	// Middleware; zero disables.
	RateLimit   float64       `env:"RATE_LIMIT"` // Requests per second
	RateBurst   int           `env:"RATE_BURST" envDefault:"1"`
	CallTimeout time.Duration `env:"CALL_TIMEOUT"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Enabled reports whether a listener address is set.
func Enabled(addr string) bool {
	return addr != "" && addr != "off"
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: %sPOOL_SIZE must be positive, got %d", Prefix, c.PoolSize)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: %sRATE_LIMIT must not be negative", Prefix)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("config: %sRATE_BURST must be positive with a rate limit", Prefix)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("config: %sCALL_TIMEOUT must not be negative", Prefix)
	}
	return nil
}
