package types

import (
	"log/slog"
	"strings"
)

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds credentials (broker URLs with passwords, SMTP passwords,
// API keys) and redacts itself when formatted or serialized, so config dumps
// and structured log entries never carry the plaintext.
//
// Call Unmask only at the point where the raw value is handed to a driver or
// an Authorization header.
type SecretString string

// String returns the redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no secret was configured.
func (s SecretString) IsEmpty() bool {
	return s == ""
}

// RedactEmail masks an address for logging, keeping the first character of
// the local part and the domain: "jane@example.com" -> "j***@example.com".
// Strings without "@" are fully masked.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
