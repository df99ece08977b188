package domain

import "fmt"

// MalformedEventError means the source adapter could not extract a stable
// entity identifier from a raw notification. Never retryable.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Reason
}

// RetryableEnrichmentError classifies a transient enrichment-backend failure
// (network, timeout, rate limit). The message is nacked and redelivered under
// the backoff policy, up to the configured attempt budget.
type RetryableEnrichmentError struct {
	Err error
}

func (e *RetryableEnrichmentError) Error() string {
	return fmt.Sprintf("retryable enrichment failure: %v", e.Err)
}

func (e *RetryableEnrichmentError) Unwrap() error { return e.Err }

// PermanentEnrichmentError classifies a payload that can never be enriched,
// such as one with no embeddable text. Acked immediately, logged, no retry.
type PermanentEnrichmentError struct {
	Reason string
	Err    error
}

func (e *PermanentEnrichmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent enrichment failure: %s: %v", e.Reason, e.Err)
	}
	return "permanent enrichment failure: " + e.Reason
}

func (e *PermanentEnrichmentError) Unwrap() error { return e.Err }

// RetryableStoreError classifies a store-unavailable condition. Handled with
// the same backoff/redelivery policy as retryable enrichment failures.
type RetryableStoreError struct {
	Err error
}

func (e *RetryableStoreError) Error() string {
	return fmt.Sprintf("retryable store failure: %v", e.Err)
}

func (e *RetryableStoreError) Unwrap() error { return e.Err }

// PermanentStoreError classifies a structurally bad record, such as a vector
// whose dimension does not match the collection. Redelivery cannot fix it.
type PermanentStoreError struct {
	Reason string
}

func (e *PermanentStoreError) Error() string {
	return "permanent store failure: " + e.Reason
}

// TransportUnavailableError means the stream transport itself failed. Always
// retryable and never consumes a message's attempt budget, since the failure
// is not the message's fault.
type TransportUnavailableError struct {
	Err error
}

func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("transport unavailable: %v", e.Err)
}

func (e *TransportUnavailableError) Unwrap() error { return e.Err }
