package httpproto

import (
	"fmt"

	"github.com/tbxark/hsha/pkg/hsha/common"
)

// Config holds HTTP processor configuration.
type Config struct {
	DocRoot        string `validate:"required,dir"`
	ServerName     string `validate:"required,printascii"`
	MaxHeaderBytes int    `validate:"required,min=256"`
	MaxBodyBytes   int    `validate:"min=0"`
	MaxFileSize    int64  `validate:"required,min=1"`
}

// DefaultConfig returns a configuration serving files from docRoot.
func DefaultConfig(docRoot string) Config {
	return Config{
		DocRoot:        docRoot,
		ServerName:     "hsha",
		MaxHeaderBytes: 8 << 10,
		MaxBodyBytes:   1 << 20,
		MaxFileSize:    16 << 20,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return common.ValidateStruct(c)
}

// MinInput is the smallest per-connection input limit that can hold every
// request this configuration accepts.
func (c *Config) MinInput() int {
	return c.MaxHeaderBytes + c.MaxBodyBytes
}

// CheckInput rejects a connection input limit that would cut off requests the
// processor still considers acceptable.
func (c *Config) CheckInput(maxInput int) error {
	if maxInput < c.MinInput() {
		return fmt.Errorf("input limit %d is below header limit %d plus body limit %d",
			maxInput, c.MaxHeaderBytes, c.MaxBodyBytes)
	}
	return nil
}
