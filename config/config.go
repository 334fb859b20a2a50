// Package config holds the environment-driven knobs this module reads at
// startup, grounded on the envconfig.Process pattern used for cloud
// output configuration elsewhere in the reference pack.
package config

import (
	"os"
	"time"

	"github.com/mstoykov/envconfig"
)

// Config is the set of environment-tunable defaults for a Browser/Tab's
// transport layer. None of these are required: every field has a
// sensible zero-environment default applied by New.
type Config struct {
	// LogLevel is a logrus level name (e.g. "debug", "info", "warn").
	LogLevel string `envconfig:"CDPDRIVE_LOG_LEVEL"`

	// PingTimeout is read from the environment only; nothing in this
	// module applies it to a Connection or its websocket.
	PingTimeout time.Duration `envconfig:"CDPDRIVE_PING_TIMEOUT"`

	// DialTimeout bounds how long dialing the debugger websocket may take
	// before DialContext gives up.
	DialTimeout time.Duration `envconfig:"CDPDRIVE_DIAL_TIMEOUT"`

	// MaxFrameSize caps the size, in bytes, of a single websocket frame
	// the transport will read before treating the message as oversized.
	MaxFrameSize int64 `envconfig:"CDPDRIVE_MAX_FRAME_SIZE"`
}

// Defaults returns the configuration this module uses when no
// environment variables are set.
func Defaults() Config {
	return Config{
		LogLevel:     "info",
		PingTimeout:  10 * time.Second,
		DialTimeout:  10 * time.Second,
		MaxFrameSize: 100 * 1024 * 1024,
	}
}

// New returns Defaults() overridden by whatever of
// CDPDRIVE_LOG_LEVEL/CDPDRIVE_PING_TIMEOUT/CDPDRIVE_DIAL_TIMEOUT/
// CDPDRIVE_MAX_FRAME_SIZE is present in the process environment.
func New() (Config, error) {
	cfg := Defaults()
	if err := envconfig.Process("", &cfg, func(key string) (string, bool) {
		v, ok := os.LookupEnv(key)
		return v, ok
	}); err != nil {
		return cfg, err
	}
	return cfg, nil
}
