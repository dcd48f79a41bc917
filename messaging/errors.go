package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrPermanentFailure marks a processing failure that retrying cannot fix
	ErrPermanentFailure = errors.New("messaging: permanent failure")
	// ErrDoubleResolution is returned when a delivery is acked, rejected or requeued twice
	ErrDoubleResolution = errors.New("messaging: delivery already resolved")
	// ErrDeliveriesClosed is returned when the broker stops delivering to a consumer
	ErrDeliveriesClosed = errors.New("messaging: delivery channel closed")
)

// Permanent wraps err so the retry consumer dead-letters the item without
// spending its remaining attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.err)
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func (e *permanentError) Is(target error) bool {
	return target == ErrPermanentFailure
}

// IsRetryable reports false so retry policies dead-letter the item
func (e *permanentError) IsRetryable() bool {
	return false
}

// BrokerError reports a failure talking to the broker. It ends a consumer loop.
type BrokerError struct {
	Op          string // Operation that failed: consume, ack, reject, requeue, republish
	Queue       string
	DeliveryTag uint64
	Err         error
}

func (e *BrokerError) Error() string {
	if e.DeliveryTag != 0 {
		return fmt.Sprintf("messaging: broker error: %s on queue %s (delivery %d): %v",
			e.Op, e.Queue, e.DeliveryTag, e.Err)
	}
	return fmt.Sprintf("messaging: broker error: %s on queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}
