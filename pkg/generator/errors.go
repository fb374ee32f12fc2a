package generator

import "errors"

// RetryableError marks a failure where a later redelivery could plausibly
// succeed (rate limit, upstream outage, timeout). Anything not wrapped in it
// is terminal: bad input semantics, malformed output, missing prerequisite
// data. The worker branches on Retryable alone, never on error content.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func retryable(err error) error {
	return &RetryableError{Err: err}
}

// Retryable reports whether redelivering the message could plausibly succeed.
func Retryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
