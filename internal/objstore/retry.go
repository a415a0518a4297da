package objstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/stratadb/strata/internal/types"
)

// newOpBackoff returns a fresh exponential backoff for a single operation.
// BackOff implementations are stateful; always return a new instance.
func newOpBackoff(maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxElapsed
	return bo
}

// transientAPICodes are S3 error codes worth retrying.
var transientAPICodes = map[string]bool{
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestTimeout":       true,
	"RequestLimitExceeded": true,
	"InternalError":        true,
	"ServiceUnavailable":   true,
	"503":                  true,
}

// notFoundAPICodes are S3 error codes meaning the object does not exist.
var notFoundAPICodes = map[string]bool{
	"NoSuchKey":    true,
	"NotFound":     true,
	"404":          true,
	"NoSuchBucket": true,
}

// isRetryableError reports whether an error is a transient failure that
// should be retried with backoff.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.ErrorCode()] {
			return true
		}
		if notFoundAPICodes[apiErr.ErrorCode()] {
			return false
		}
	}
	errStr := strings.ToLower(err.Error())
	// Network transient errors (brief blips, not persistent failures).
	for _, s := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"i/o timeout",
		"tls handshake timeout",
		"no such host",
		"unexpected eof",
		"slow down",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// isNotFoundError reports whether an error means the object is missing.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return notFoundAPICodes[apiErr.ErrorCode()]
	}
	return false
}

// withRetry executes an operation with retry for transient errors. The
// returned error is classified into the engine's failure taxonomy.
func withRetry(ctx context.Context, maxElapsed time.Duration, key string, op func() error) error {
	bo := newOpBackoff(maxElapsed)
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isNotFoundError(err) {
			return backoff.Permanent(notFound(key))
		}
		if isRetryableError(err) {
			return err // retryable; backoff will retry
		}
		return backoff.Permanent(classifyPermanent(err))
	}, backoff.WithContext(bo, ctx))
	if err == nil {
		return nil
	}
	// Retries exhausted on a transient class.
	if !errors.Is(err, types.ErrNotFound) && !errors.Is(err, types.ErrPermanent) &&
		!errors.Is(err, types.ErrTransient) && isRetryableError(err) {
		return types.NewError(types.ErrTransient, "OBJ_RETRY_EXHAUSTED", err.Error(), "key", key)
	}
	return err
}

// classifyPermanent wraps a non-retryable, non-404 failure.
func classifyPermanent(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewError(types.ErrPermanent, "OBJ_PERMANENT", err.Error())
}
