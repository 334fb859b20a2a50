package proc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnCreatesTemporaryProfileAndCleansItUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, "sleep", []string{"5"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, h.UserDataDir)
	require.True(t, h.ownsProfile)

	_, statErr := os.Stat(h.UserDataDir)
	require.NoError(t, statErr, "temp profile dir should exist while the process is running")

	require.NoError(t, h.Signal(killSignal()))
	_ = h.Wait(ctx)

	require.NoError(t, h.Cleanup())
	_, statErr = os.Stat(h.UserDataDir)
	require.True(t, os.IsNotExist(statErr), "temp profile dir should be removed after Cleanup")
}

func TestSpawnWithExplicitDataDirNeverCleansItUp(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "keepme")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, "sleep", []string{"5"}, dir)
	require.NoError(t, err)
	require.Equal(t, dir, h.UserDataDir)
	require.False(t, h.ownsProfile)

	require.NoError(t, h.Signal(killSignal()))
	_ = h.Wait(ctx)

	require.NoError(t, h.Cleanup())
	_, err = os.Stat(marker)
	require.NoError(t, err, "Cleanup must not remove a caller-supplied data dir")
}

func TestSpawnNonexistentExecutableFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Spawn(ctx, "cdpdrive-definitely-not-a-real-binary", nil, "")
	require.Error(t, err)
}

// killSignal avoids importing "syscall" directly in the test just to spell
// SIGKILL, since Handle.Signal already takes a plain int.
func killSignal() int { return 9 }
