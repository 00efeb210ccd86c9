// Package reports builds report archives: newline-delimited JSON rows
// compressed with zstd, stored under a key derived from the job id so a
// redelivered job overwrites its own archive.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"

	"jobboard/internal/types"
)

var newline = []byte{'\n'}

// Source streams the rows of one report type.
type Source interface {
	StreamReport(ctx context.Context, reportType string, window types.ReportWindow, yield func(json.RawMessage) error) (int, error)
}

// Store persists a finished archive and returns where it was written.
type Store interface {
	Put(ctx context.Context, key string, body []byte) (location string, err error)
}

// Request identifies one report build.
type Request struct {
	JobID      string
	ReportType string
	Window     types.ReportWindow
}

// Result describes a stored archive.
type Result struct {
	Location string
	Key      string
	Rows     int
	RawBytes int
	Bytes    int
}

// Generator builds and stores archives.
type Generator struct {
	source Source
	store  Store
	prefix string
	logger *slog.Logger
}

// NewGenerator creates a Generator writing under prefix.
func NewGenerator(source Source, store Store, prefix string, logger *slog.Logger) *Generator {
	return &Generator{source: source, store: store, prefix: prefix, logger: logger}
}

// Key returns "<prefix>/<reportType>/<jobID>.json.zst".
func (g *Generator) Key(req Request) string {
	return path.Join(g.prefix, req.ReportType, req.JobID+".json.zst")
}

// Generate streams the report rows into a zstd frame and stores it.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return Result{}, fmt.Errorf("create zstd encoder: %w", err)
	}

	raw := 0
	rows, err := g.source.StreamReport(ctx, req.ReportType, req.Window, func(row json.RawMessage) error {
		n, err := enc.Write(row)
		raw += n
		if err != nil {
			return err
		}
		n, err = enc.Write(newline)
		raw += n
		return err
	})
	if err != nil {
		enc.Close()
		return Result{}, err
	}
	if err := enc.Close(); err != nil {
		return Result{}, fmt.Errorf("finish zstd frame: %w", err)
	}

	key := g.Key(req)
	location, err := g.store.Put(ctx, key, buf.Bytes())
	if err != nil {
		return Result{}, err
	}

	res := Result{Location: location, Key: key, Rows: rows, RawBytes: raw, Bytes: buf.Len()}
	g.logger.InfoContext(ctx, "report stored",
		"report_type", req.ReportType,
		"location", location,
		"rows", rows,
		"raw_bytes", raw,
		"compressed_bytes", res.Bytes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
