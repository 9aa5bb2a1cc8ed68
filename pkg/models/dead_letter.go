package models

// DeadLetterReason explains why a queue message was dead-lettered
type DeadLetterReason string

const (
	DLQReasonMaxRetries     DeadLetterReason = "max_retries"
	DLQReasonInvalidMessage DeadLetterReason = "invalid_message"
)
