package device

import (
	"time"

	"go.uber.org/zap"

	"github.com/vladimirvivien/go4uvc/uvc"
)

type config struct {
	logger        *zap.Logger
	bufCount      uint32
	pollTimeout   time.Duration
	heartbeat     time.Duration
	debugDir      string
	debugInterval uint64
	formatConfig  *uvc.FormatConfig
}

// Option configures a Device at creation.
type Option func(*config)

// WithLogger sets the device logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithBufferCount sets the MMAP slot count requested on STREAMON.
// Defaults to 2.
func WithBufferCount(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.bufCount = n
		}
	}
}

// WithPollTimeout sets the event-loop wait quantum. The quantum bounds
// how long shutdown takes to be observed. Defaults to 250ms.
func WithPollTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithDebugDir enables periodic raw frame dumps into dir.
func WithDebugDir(dir string) Option {
	return func(c *config) {
		c.debugDir = dir
	}
}

// WithFormatConfig overrides the format catalog and default selection.
func WithFormatConfig(fc *uvc.FormatConfig) Option {
	return func(c *config) {
		if fc != nil {
			c.formatConfig = fc
		}
	}
}
