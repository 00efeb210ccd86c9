package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// createdAtLayout is ISO-8601 in UTC with millisecond precision.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the unit of work placed on a queue. ID correlates log lines
// across producer and consumer; it is not a deduplication key.
type Envelope struct {
	ID   string
	Type JobKind
	// Data travels verbatim apart from insignificant whitespace, which is
	// compacted on encode. HTML in strings is not escaped.
	Data      json.RawMessage
	CreatedAt time.Time
	// Retries counts failed attempts so far. The consumer increments it on
	// every republish.
	Retries int
}

type envelopeJSON struct {
	ID        string          `json:"id"`
	Type      JobKind         `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"createdAt"`
	Retries   int             `json:"retries,omitempty"`
}

// MarshalJSON encodes the envelope with createdAt in UTC at millisecond
// precision. json.Marshal re-escapes HTML in the result; use Encode for the
// wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = json.RawMessage("null")
	}
	return marshalJSON(envelopeJSON{
		ID:        e.ID,
		Type:      e.Type,
		Data:      data,
		CreatedAt: e.CreatedAt.UTC().Format(createdAtLayout),
		Retries:   e.Retries,
	})
}

// Encode returns the wire form of e.
func (e Envelope) Encode() ([]byte, error) {
	return marshalJSON(e)
}

// marshalJSON is json.Marshal without HTML escaping.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// UnmarshalJSON decodes an envelope. createdAt accepts any RFC 3339 time and
// is normalized to UTC.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var createdAt time.Time
	if raw.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
		if err != nil {
			return fmt.Errorf("createdAt: %w", err)
		}
		createdAt = t.UTC()
	}
	*e = Envelope{
		ID:        raw.ID,
		Type:      raw.Type,
		Data:      raw.Data,
		CreatedAt: createdAt,
		Retries:   raw.Retries,
	}
	return nil
}

// NewEnvelope builds an envelope for job with a fresh id and createdAt now.
func NewEnvelope(job Job, now time.Time) (Envelope, error) {
	data, err := marshalJSON(job)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", job.Kind(), err)
	}
	return Envelope{
		ID:        NewJobID(job.Kind(), now),
		Type:      job.Kind(),
		Data:      data,
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}, nil
}

// NewJobID returns "<kind>_<unix millis>_<8 hex chars>".
func NewJobID(kind JobKind, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", kind, now.UnixMilli(), suffix)
}

var errMissingType = errors.New("envelope has no type")

// DecodeEnvelope parses a message body. Bodies that are not JSON objects or
// lack a type are malformed and cannot be retried.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, errMissingType
	}
	return env, nil
}
