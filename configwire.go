package cdpdrive

import (
	"github.com/sirupsen/logrus"

	"github.com/corvus-labs/cdpdrive/config"
)

// DialOptionsFromConfig translates a config.Config into the DialOptions
// NewBrowser/NewConnection need, so a caller can go straight from
// config.New() to WithBrowserDialOptions without hand-translating each
// field.
func DialOptionsFromConfig(cfg config.Config) []DialOption {
	var opts []DialOption
	if cfg.DialTimeout > 0 {
		opts = append(opts, WithHandshakeTimeout(cfg.DialTimeout))
	}
	if cfg.MaxFrameSize > 0 {
		opts = append(opts, WithMaxFrameSize(cfg.MaxFrameSize))
	}
	return opts
}

// LoggerFromConfig builds a logrus.Logger at the level named by
// cfg.LogLevel, defaulting to logrus's standard level on an unrecognized
// or empty name.
func LoggerFromConfig(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
