package client

import (
	"time"

	"github.com/tbxark/hsha/pkg/hsha/common"
)

// Config holds client configuration.
type Config struct {
	Addr        string        `validate:"required,hostname_port"`
	Path        string        `validate:"required,startswith=/"`
	Host        string        // Host header, defaults to Addr
	Connections int           `validate:"required,min=1"`
	Requests    int           `validate:"required,min=1"` // per connection
	Rate        float64       `validate:"min=0"`          // requests per second across all connections, 0 is unlimited
	DialTimeout time.Duration `validate:"required,min=1ms"`
	IOTimeout   time.Duration `validate:"required,min=1ms"`
	DialRetries uint64        // extra dial attempts with exponential backoff
}

// DefaultConfig returns a configuration fetching path from addr.
func DefaultConfig(addr, path string) Config {
	return Config{
		Addr:        addr,
		Path:        path,
		Connections: 1,
		Requests:    1,
		DialTimeout: 5 * time.Second,
		IOTimeout:   10 * time.Second,
		DialRetries: 3,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return common.ValidateStruct(c)
}
