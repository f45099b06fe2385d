package tincan

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryBaseDelay is the per-attempt backoff step of a Failure.
const RetryBaseDelay = 10 * time.Second

// Failure records a failed delivery of a message from one client's list.
type Failure struct {
	FailedAt     time.Time `json:"failed_at"`
	AttemptCount int       `json:"attempt_count"`
	MessageID    string    `json:"message_id"`
	// QueueName is the message list the delivery originated from.
	QueueName string `json:"queue_name"`
}

// NewFailure records the first failed attempt of messageID from queueName.
func NewFailure(messageID, queueName string, failedAt time.Time) *Failure {
	return &Failure{
		FailedAt:     failedAt,
		AttemptCount: 1,
		MessageID:    messageID,
		QueueName:    queueName,
	}
}

// AttemptAfter is the earliest time the message may be retried:
// FailedAt + AttemptCount * RetryBaseDelay.
func (f *Failure) AttemptAfter() time.Time {
	return attemptAfter(f.FailedAt, f.AttemptCount)
}

// DueAt is the deadline the failure carried while it sat in the list, before
// DecodeFailure bumped AttemptCount.
func (f *Failure) DueAt() time.Time {
	return attemptAfter(f.FailedAt, f.AttemptCount-1)
}

func attemptAfter(failedAt time.Time, attempts int) time.Time {
	if attempts < 0 {
		attempts = 0
	}
	return failedAt.Add(time.Duration(attempts) * RetryBaseDelay)
}

// Encode serializes the failure to its wire JSON.
func (f *Failure) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFailure parses wire JSON into a Failure. Every decode counts as a new
// delivery attempt, so AttemptCount is one more than the stored value.
func DecodeFailure(data []byte) (*Failure, error) {
	var f Failure
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tincan: decode failure: %w", err)
	}
	if f.AttemptCount < 0 {
		f.AttemptCount = 0
	}
	f.AttemptCount++
	return &f, nil
}
