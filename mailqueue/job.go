package mailqueue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// State is where a job sits in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// KindVerification is the job kind carrying an email verification link.
const KindVerification = "verification"

// Job is one email delivery request.
//
// Lower Priority values are served first. Attempts counts failed delivery
// attempts. Payload is cleared once the job is completed or failed.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Recipient   string          `json:"recipient"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Priority    int             `json:"priority"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	State       State           `json:"state"`
	LastError   string          `json:"lastError,omitempty"`
	AvailableAt time.Time       `json:"availableAt"`
	FinishedAt  time.Time       `json:"finishedAt,omitempty"`
}

// VerificationPayload is the payload of a KindVerification job.
type VerificationPayload struct {
	Token     string `json:"token"`
	FirstName string `json:"firstName,omitempty"`
}

// NewVerificationJob builds a verification job for recipient.
func NewVerificationJob(recipient string, p VerificationPayload, priority int) (Job, error) {
	if strings.TrimSpace(p.Token) == "" {
		return Job{}, errors.New("verification token required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Job{}, err
	}
	return Job{
		Kind:      KindVerification,
		Recipient: recipient,
		Payload:   raw,
		Priority:  priority,
	}, nil
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return errors.New("empty job payload")
	}
	return json.Unmarshal(j.Payload, v)
}
