package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// release swaps in ldflags-style values for the duration of the test.
func release(t *testing.T, v, c, built string) {
	t.Helper()
	oldV, oldC, oldB := version, commit, buildTime
	version, commit, buildTime = v, c, built
	t.Cleanup(func() { version, commit, buildTime = oldV, oldC, oldB })
}

func TestBuildInfo_String(t *testing.T) {
	assert.Equal(t, "dev (commit none, built unknown)", NewBuildInfo().String())

	release(t, "1.4.0", "a1b2c3d", "2026-10-01T12:00:00Z")
	assert.Equal(t, "1.4.0 (commit a1b2c3d, built 2026-10-01T12:00:00Z)", NewBuildInfo().String())
}

func TestBuildInfo_LogValue(t *testing.T) {
	release(t, "1.4.0", "a1b2c3d", "2026-10-01T12:00:00Z")

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("worker started", "build", NewBuildInfo())

	var line struct {
		Build map[string]string `json:"build"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, map[string]string{"version": "1.4.0", "commit": "a1b2c3d"}, line.Build)
}

func TestLoadConfig_CarriesBuildInfo(t *testing.T) {
	release(t, "1.4.0", "a1b2c3d", "2026-10-01T12:00:00Z")
	t.Setenv("APP_ENV", "local")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BuildInfo{Version: "1.4.0", Commit: "a1b2c3d", BuildTime: "2026-10-01T12:00:00Z"}, cfg.Build)
}
