package chat

import "fmt"

// PaymentRequiredError reports that the ledger refused the reservation. The
// message is the ledger's own, surfaced verbatim to the caller.
type PaymentRequiredError struct {
	Message string
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: %s", e.Message)
}

// UnavailableError reports that a dependency could not be reached at all;
// the caller may retry.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RetrievalError reports a post-reservation retrieval failure. The debit has
// been compensated by the time this is returned.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError reports a post-retrieval generation failure outside the
// degradable provider-availability class. The debit has been compensated.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
