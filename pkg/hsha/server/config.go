package server

import (
	"fmt"

	"github.com/tbxark/hsha/pkg/hsha/common"
)

// Overflow policies applied when the worker pool refuses a connection.
const (
	OverflowDrop = "drop" // close the connection
	OverflowBusy = "busy" // answer with BusyResponse, then close
)

// BusyResponse is written to a connection the pool could not take under the
// busy overflow policy.
var BusyResponse = []byte("HTTP/1.1 503 Service Unavailable\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Length: 20\r\n" +
	"Connection: close\r\n" +
	"\r\n" +
	"Service Unavailable\n")

// Config holds server configuration.
type Config struct {
	Host           string  `validate:"required,ip4_addr"`
	Port           int     `validate:"min=0,max=65535"`
	Backlog        int     `validate:"required,min=1"`
	MaxConnections int     `validate:"required,min=1"`
	MaxFD          int     `validate:"required,min=16"`
	Workers        int     `validate:"required,min=1"`
	QueueDepth     int     `validate:"min=0"` // 0 means unbounded
	Overflow       string  `validate:"required,oneof=drop busy"`
	MaxEvents      int     `validate:"required,min=1"`
	ReadChunk      int     `validate:"required,min=1"`
	MaxInput       int     `validate:"required,gtefield=ReadChunk"`
	PerIPRate      float64 `validate:"min=0"` // accepts per second per IP, 0 disables
	PerIPBurst     int     `validate:"min=0"`
}

// DefaultConfig returns the configuration the server binary starts from.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Backlog:        5,
		MaxConnections: 65536,
		MaxFD:          65536,
		Workers:        8,
		QueueDepth:     10000,
		Overflow:       OverflowDrop,
		MaxEvents:      10000,
		ReadChunk:      4096,
		MaxInput:       2 << 20,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := common.ValidateStruct(c); err != nil {
		return err
	}
	if c.PerIPRate > 0 && c.PerIPBurst < 1 {
		return fmt.Errorf("per-IP burst must be at least 1 when per-IP rate is %g", c.PerIPRate)
	}
	return nil
}
