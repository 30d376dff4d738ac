// Package retry implements the bounded, fixed-spacing retry policy the read
// queue applies to failed file reads.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"time"

	"github.com/contextfs/contextfs/pkg/errors"
)

// Policy bounds how often an operation is re-attempted. The zero value
// performs a single attempt with no retries.
type Policy struct {
	// Retries is how many times a failed attempt is repeated. The total
	// attempt count is Retries+1.
	Retries int `yaml:"retries" json:"retries"`

	// Delay is the fixed spacing between attempts.
	Delay time.Duration `yaml:"delay" json:"delay"`
}

// Attempts returns the total number of attempts the policy allows.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Do runs op, repeating it while it fails with a retryable engine error and
// retries remain. Non-retryable failures surface unchanged after the first
// attempt; a retryable failure that survives every attempt is wrapped as
// RETRY_EXHAUSTED with the last error as its cause. The context cancels both
// in-flight attempts and the spacing wait.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	var last error

	for attempt := 1; attempt <= p.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodeOperationCanceled, "operation canceled", err)
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if !Retryable(last) {
			return last
		}
		if attempt == p.Attempts() {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeOperationCanceled,
				fmt.Sprintf("operation canceled after %d attempts", attempt), ctx.Err())
		case <-time.After(p.Delay):
		}
	}

	if p.Retries > 0 {
		return errors.Wrap(errors.ErrCodeRetryExhausted,
			fmt.Sprintf("operation still failing after %d attempts", p.Attempts()), last)
	}
	return last
}

// Retryable reports whether err is worth re-attempting: an engine error
// carrying the retryable hint. Anything else — plain errors included — is
// treated as final.
func Retryable(err error) bool {
	var engErr *errors.EngineError
	if stderr.As(err, &engErr) {
		return engErr.Retryable
	}
	return false
}
