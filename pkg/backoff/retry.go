// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backoff

import (
	"context"
	"errors"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of times the operation is run, including
	// the first one. Values below 1 are treated as 1.
	Attempts int
	// Interval is the pause between two attempts.
	Interval time.Duration
}

// Notify is called after every failed transient attempt that will be retried.
// elapsed is the wall time spent since the first attempt started.
type Notify func(err error, attempt int, elapsed time.Duration)

// Operation is one complete attempt. It must be safe to run again from scratch.
type Operation func(ctx context.Context) error

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retries exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Retry runs op until it succeeds, fails with a non-transient error, or the
// attempt budget in p is spent. Non-transient errors are returned unchanged on
// first occurrence. Exhaustion yields an *ExhaustedError wrapping the last error.
// The returned int is the number of attempts made.
func Retry(ctx context.Context, p Policy, op Operation, notify Notify) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := cbackoff.WithContext(
		cbackoff.WithMaxRetries(cbackoff.NewConstantBackOff(p.Interval), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	start := time.Now()

	err := cbackoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsTransientError(err) {
			return err
		}
		return cbackoff.Permanent(err)
	}, b, func(err error, _ time.Duration) {
		if notify != nil {
			notify(err, attempt, time.Since(start))
		}
	})
	if err == nil {
		return attempt, nil
	}

	if IsTransientError(err) && ctx.Err() == nil {
		return attempt, &ExhaustedError{Attempts: attempt, Err: err}
	}

	return attempt, err
}

// IsExhaustedError reports whether err came from a retry loop that ran out of attempts.
func IsExhaustedError(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
