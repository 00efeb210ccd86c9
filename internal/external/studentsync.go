package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jobboard/internal/types"
)

// StudentDirectoryConfig configures StudentDirectoryClient.
type StudentDirectoryConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Timeout time.Duration
	Logger  *slog.Logger
}

// StudentDirectoryClient implements StudentSyncer against the directory
// service's POST /v1/students/sync endpoint.
type StudentDirectoryClient struct {
	base    *Upstream
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewStudentDirectoryClient creates a StudentDirectoryClient.
func NewStudentDirectoryClient(cfg StudentDirectoryConfig, opts ...UpstreamOption) *StudentDirectoryClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := NewUpstream(UpstreamConfig{
		Name:      "student-directory",
		Timeout:   timeout,
		Retry:     DefaultRetryPolicy(),
		UserAgent: userAgent,
	}, opts...)
	return &StudentDirectoryClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// Sync asks the directory to merge one batch of student records. A 200
// response carries the per-record counts; partial failures are not errors.
func (c *StudentDirectoryClient) Sync(ctx context.Context, in SyncRequest) (SyncResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return SyncResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal sync request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/students/sync", bytes.NewReader(body))
	if err != nil {
		return SyncResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create sync request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.apiKey.IsEmpty() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return SyncResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return SyncResult{}, types.NewAppError(
			types.ErrCodeUpstreamSync,
			fmt.Sprintf("student directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			nil,
		)
	}

	var result SyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SyncResult{}, types.NewAppError(types.ErrCodeUpstreamSync, "malformed sync response", err)
	}
	return result, nil
}

var _ StudentSyncer = (*StudentDirectoryClient)(nil)
