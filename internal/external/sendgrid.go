package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jobboard/internal/types"
)

const sendGridURL = "https://api.sendgrid.com"

// SendGridConfig holds SendGrid credentials and the sender identity.
type SendGridConfig struct {
	APIKey    types.SecretString
	FromEmail string
	FromName  string
	// BaseURL points tests at a local server.
	BaseURL string
	Logger  *slog.Logger
}

// SendGridMailer implements Mailer with the SendGrid v3 mail send endpoint.
type SendGridMailer struct {
	upstream *Upstream
	cfg      SendGridConfig
	endpoint string
	logger   *slog.Logger
}

// NewSendGridMailer creates a SendGridMailer. Calls time out after 10s and
// are retried twice before the job itself is retried.
func NewSendGridMailer(cfg SendGridConfig, opts ...UpstreamOption) *SendGridMailer {
	upstream := NewUpstream(UpstreamConfig{
		Name:      "sendgrid",
		Timeout:   10 * time.Second,
		Retry:     RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		UserAgent: userAgent,
	}, opts...)
	return newSendGridMailer(upstream, cfg)
}

func newSendGridMailer(upstream *Upstream, cfg SendGridConfig) *SendGridMailer {
	base := cfg.BaseURL
	if base == "" {
		base = sendGridURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridMailer{
		upstream: upstream,
		cfg:      cfg,
		endpoint: strings.TrimSuffix(base, "/") + "/v3/mail/send",
		logger:   logger,
	}
}

// Send returns the X-Message-Id of an accepted (202) message. A 403 means
// the recipient is suppressed and is permanent; other failures are
// retryable.
func (s *SendGridMailer) Send(ctx context.Context, email Email) (string, error) {
	body, err := json.Marshal(s.message(ctx, email))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode SendGrid message", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey.Unmask())

	resp, err := s.upstream.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) || ctx.Err() != nil {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SendGrid request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", rejected(resp)
	}
	id := resp.Header.Get("X-Message-Id")
	s.logger.DebugContext(ctx, "email accepted by SendGrid", "provider_message_id", id)
	return id, nil
}

type sendGridMessage struct {
	Personalizations []sendGridRecipients `json:"personalizations"`
	From             sendGridAddress      `json:"from"`
	Subject          string               `json:"subject"`
	Content          []sendGridContent    `json:"content"`
	CustomArgs       map[string]string    `json:"custom_args,omitempty"`
}

type sendGridRecipients struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// message tags the mail with the job id so bounces can be traced back.
// text/plain must come before text/html.
func (s *SendGridMailer) message(ctx context.Context, email Email) sendGridMessage {
	msg := sendGridMessage{
		Personalizations: []sendGridRecipients{{To: []sendGridAddress{{Email: email.To}}}},
		From:             sendGridAddress{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
		Subject:          email.Subject,
	}
	if email.Text != "" {
		msg.Content = append(msg.Content, sendGridContent{Type: "text/plain", Value: email.Text})
	}
	msg.Content = append(msg.Content, sendGridContent{Type: "text/html", Value: email.HTML})
	if jobID := types.GetJobID(ctx); jobID != "" {
		msg.CustomArgs = map[string]string{"job_id": jobID}
	}
	return msg
}

// rejected maps a non-202 reply that Upstream did not retry.
func rejected(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SendGrid replied %d with an unreadable body", resp.StatusCode), err)
	}

	reason := string(body)
	var parsed struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		reason = parsed.Errors[0].Message
	}

	if resp.StatusCode == http.StatusForbidden {
		return types.NewAppError(types.ErrCodeEmailBlocked, "SendGrid blocked delivery: "+reason, nil)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SendGrid replied %d: %s", resp.StatusCode, reason), nil)
}

var _ Mailer = (*SendGridMailer)(nil)
