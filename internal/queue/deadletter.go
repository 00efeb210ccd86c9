package queue

import (
	"encoding/json"
	"time"
)

// DeadLetterReason says why a message left its work queue for good.
type DeadLetterReason string

const (
	// ReasonMalformed: the body was not a decodable envelope.
	ReasonMalformed DeadLetterReason = "malformed"
	// ReasonTimeout: the handler exceeded the handler timeout.
	ReasonTimeout DeadLetterReason = "timeout"
	// ReasonMaxAttempts: the handler failed on every allowed attempt.
	ReasonMaxAttempts DeadLetterReason = "max_attempts"
	// ReasonRejected: the handler returned a non-retryable error.
	ReasonRejected DeadLetterReason = "rejected"
)

// DeadLetter is the record published to DeadLetterQueue. Envelope holds the
// original message body, or a JSON string of it when the body was not JSON.
type DeadLetter struct {
	Queue    string           `json:"queue"`
	Envelope json.RawMessage  `json:"envelope"`
	Reason   DeadLetterReason `json:"reason"`
	Error    string           `json:"error"`
	Attempts int              `json:"attempts"`
	FailedAt time.Time        `json:"failedAt"`
}

func rawOrString(body []byte) json.RawMessage {
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
