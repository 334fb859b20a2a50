package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreUsedWithoutEnvironment(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestNewAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("CDPDRIVE_LOG_LEVEL", "debug")
	t.Setenv("CDPDRIVE_DIAL_TIMEOUT", "30s")
	t.Setenv("CDPDRIVE_MAX_FRAME_SIZE", "1048576")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 30*time.Second, cfg.DialTimeout)
	require.Equal(t, int64(1048576), cfg.MaxFrameSize)

	// Fields left unset in the environment keep their default.
	require.Equal(t, Defaults().PingTimeout, cfg.PingTimeout)
}

func TestNewRejectsMalformedDuration(t *testing.T) {
	t.Setenv("CDPDRIVE_PING_TIMEOUT", "not-a-duration")
	_, err := New()
	require.Error(t, err)
}
