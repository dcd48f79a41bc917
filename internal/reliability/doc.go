// Package reliability holds the failure-handling policies of the pipeline.
//
// This package implements:
//   - RetryPolicy: decides whether a failed work item is republished or dead-lettered
//   - ExponentialBackoff and Retry: bounded retry of broker operations such as the initial dial
//   - CircuitBreaker: fails publishes fast while the broker keeps refusing them
//   - RateLimiter: paces producer publishes
//
// Example usage:
//
//	policy := NewMaxAttempts(5)
//	switch policy.Decide(retryCount, err) {
//	case DecisionRetry:
//	    // republish with retryCount+1
//	case DecisionDeadLetter:
//	    // reject without requeue
//	}
package reliability
