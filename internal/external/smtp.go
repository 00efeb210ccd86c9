package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"jobboard/internal/types"
)

// SMTPConfig holds relay settings for SMTPMailer.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  types.SecretString
	FromEmail string
	FromName  string
	// Timeout bounds one send when the caller's context has no deadline.
	Timeout time.Duration
	Logger  *slog.Logger
}

// SMTPMailer implements Mailer against an SMTP relay. STARTTLS is used when
// the server offers it; PLAIN auth is used when a username is configured.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{cfg: cfg, logger: logger, now: time.Now}
}

// Send delivers email and returns the generated Message-ID.
func (m *SMTPMailer) Send(ctx context.Context, email Email) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	msg, err := m.message(email, uuid.NewString()+"@"+domainOf(m.cfg.FromEmail))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeJobInvalidPayload, "invalid email address", err)
	}

	client, err := m.client()
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "invalid SMTP client settings", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", mapSMTPError(err)
	}

	msgID := msg.GetMessageID()
	m.logger.DebugContext(ctx, "email relayed", "host", m.cfg.Host, "message_id", msgID)
	return msgID, nil
}

func (m *SMTPMailer) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(m.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password.Unmask()),
		)
	}
	return mail.NewClient(m.cfg.Host, opts...)
}

// message renders email as multipart/alternative when a text part is
// present, text/html otherwise.
func (m *SMTPMailer) message(email Email, msgID string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetDateWithValue(m.now())
	msg.SetMessageIDWithValue(msgID)

	if email.Text == "" {
		msg.SetBodyString(mail.TypeTextHTML, email.HTML)
		return msg, nil
	}
	msg.SetBodyString(mail.TypeTextPlain, email.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, email.HTML)
	return msg, nil
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// mapSMTPError maps reply codes: mailbox rejections (550, 551, 553) are
// permanent, other replies are retryable, and errors without a reply mean
// the relay was unreachable.
func mapSMTPError(err error) error {
	var sendErr *mail.SendError
	if !errors.As(err, &sendErr) || sendErr.ErrorCode() == 0 {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SMTP relay unreachable", err)
	}
	switch code := sendErr.ErrorCode(); code {
	case 550, 551, 553:
		return types.NewAppError(types.ErrCodeEmailBlocked, "recipient rejected by SMTP server", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SMTP server replied %d", code), err)
	}
}

var _ Mailer = (*SMTPMailer)(nil)
