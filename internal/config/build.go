package config

import (
	"fmt"
	"log/slog"
)

// Set with -ldflags at release time, e.g.
//
//	-X jobboard/internal/config.version=1.4.0 -X jobboard/internal/config.commit=$(git rev-parse --short HEAD)
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reports the build the running worker or queuectl came from.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String is the form printed by queuectl --version.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", b.Version, b.Commit, b.BuildTime)
}

// LogValue groups the build fields under one key in worker logs.
func (b BuildInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", b.Version),
		slog.String("commit", b.Commit),
	)
}
