package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard/pkg/config"
)

func TestConfigLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opsboard.yaml")
	data := []byte("listen: \"127.0.0.1:9999\"\ncookie_secret: \"cli-test\"\nsession_ttl: \"5m\"\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
}

func TestSignalHandlerContext(t *testing.T) {
	ctx := setupSignalHandler()
	select {
	case <-ctx.Done():
		t.Fatal("context cancelled without a signal")
	default:
	}
}
