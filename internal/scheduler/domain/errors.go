package domain

import "errors"

var (
	// ErrEmptyContent is returned when a post has no publishable content.
	// Terminal: retrying cannot produce content.
	ErrEmptyContent = errors.New("post content is empty")

	// ErrTokenExpired is returned when the social account's access token
	// expired before dispatch. Terminal: the account must be reconnected.
	ErrTokenExpired = errors.New("social account token has expired")

	// ErrRateLimited is returned when the workspace's hourly publish
	// budget is spent. The job is requeued without a retry penalty.
	ErrRateLimited = errors.New("workspace rate limit reached")

	// ErrAlreadyPublished is returned by the idempotency re-check when a
	// concurrent worker finished the job first.
	ErrAlreadyPublished = errors.New("job already published by another worker")

	// ErrUnknownProvider is returned when no publisher is registered for
	// the account's provider.
	ErrUnknownProvider = errors.New("no publisher registered for provider")

	// ErrJobNotClaimed is returned when a conditional claim update
	// affected zero rows.
	ErrJobNotClaimed = errors.New("job not in pending status")
)

// PublishError wraps a transient provider failure that should be retried
// with backoff until MaxRetries is exhausted.
type PublishError struct {
	Provider string
	Err      error
}

func (e *PublishError) Error() string {
	return "publish via " + e.Provider + " failed: " + e.Err.Error()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// NewPublishError wraps err as a retryable provider failure.
func NewPublishError(provider string, err error) error {
	return &PublishError{Provider: provider, Err: err}
}

// IsRetryable reports whether err should re-enter the queue with backoff
// rather than fail the job terminally.
func IsRetryable(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe)
}
