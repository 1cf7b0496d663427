package api

import "time"

// Config tunes the upload API HTTP server.
//
// Zero values are filled by applyDefaults, so a Server can be built
// from a partially populated Config.
type Config struct {
	// Port is the HTTP port for the upload API.
	// Default: 4000
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// RequestTimeout bounds a single request through the router,
	// including chunk body streaming. Finalize is exempt: its hashing
	// time scales with blob size.
	// Default: 60s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// ReadHeaderTimeout is the maximum duration for reading request
	// headers. The body is not covered: chunk PUTs stream large bodies
	// at whatever pace the client manages, bounded by RequestTimeout.
	// Default: 10s
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on
	// a kept-alive connection.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 4000
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}
