package core

import (
	"errors"
	"fmt"
)

// Lifecycle errors
var (
	ErrProjectNotFound   = errors.New("reelpipe: project not found")
	ErrJobNotFound       = errors.New("reelpipe: job not found")
	ErrPostNotFound      = errors.New("reelpipe: scheduled post not found")
	ErrJobNotResumable   = errors.New("reelpipe: job is not in a resumable state")
	ErrJobAlreadyRunning = errors.New("reelpipe: another job is already running for this project")
	ErrUnknownStep       = errors.New("reelpipe: unknown pipeline step")
	ErrPostNotClaimable  = errors.New("reelpipe: scheduled post could not be claimed")
)

// NoRetryError indicates a failure that must not be retried, such as a
// validation rejection.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// IsRetryable reports whether an error may be retried. Errors are
// retryable unless wrapped with NoRetry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var noRetry *NoRetryError
	return !errors.As(err, &noRetry)
}

// NextStep returns the step after s in the pipeline order, or false when
// s is the last step.
func NextStep(s Step) (Step, bool) {
	for i, step := range Steps {
		if step == s && i+1 < len(Steps) {
			return Steps[i+1], true
		}
	}
	return "", false
}

// StepIndex returns the position of s in the pipeline order, or -1.
func StepIndex(s Step) int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}
