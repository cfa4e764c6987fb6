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

package backoff_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/metacatalog/pkg/backoff"
)

var _ = Describe("Retry", func() {
	var (
		ctx    context.Context
		policy backoff.Policy
		locked error
	)

	BeforeEach(func() {
		ctx = context.Background()
		policy = backoff.Policy{Attempts: 3, Interval: time.Millisecond}
		locked = errors.New("database is locked") //nolint:err113 // Test needs dynamic error
	})

	It("should return after the first success", func() {
		calls := 0
		attempts, err := backoff.Retry(ctx, policy, func(context.Context) error {
			calls++
			return nil
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(1))
		Expect(calls).To(Equal(1))
	})

	It("should retry transient errors until success", func() {
		calls := 0
		var notified []int
		attempts, err := backoff.Retry(ctx, policy, func(context.Context) error {
			calls++
			if calls < 3 {
				return backoff.NewTransientError(locked)
			}
			return nil
		}, func(_ error, attempt int, _ time.Duration) {
			notified = append(notified, attempt)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(3))
		Expect(notified).To(Equal([]int{1, 2}))
	})

	It("should give up after the attempt budget", func() {
		calls := 0
		attempts, err := backoff.Retry(ctx, policy, func(context.Context) error {
			calls++
			return backoff.NewTransientError(locked)
		}, nil)
		Expect(err).To(HaveOccurred())
		Expect(backoff.IsExhaustedError(err)).To(BeTrue())
		Expect(errors.Is(err, locked)).To(BeTrue())
		Expect(attempts).To(Equal(3))
		Expect(calls).To(Equal(3))

		var ee *backoff.ExhaustedError
		Expect(errors.As(err, &ee)).To(BeTrue())
		Expect(ee.Attempts).To(Equal(3))
	})

	It("should never retry permanent errors", func() {
		permanent := errors.New("no such column: x") //nolint:err113 // Test needs dynamic error
		calls := 0
		attempts, err := backoff.Retry(ctx, policy, func(context.Context) error {
			calls++
			return permanent
		}, nil)
		Expect(err).To(BeIdenticalTo(permanent))
		Expect(attempts).To(Equal(1))
		Expect(calls).To(Equal(1))
	})

	It("should treat a zero attempt budget as a single attempt", func() {
		calls := 0
		_, err := backoff.Retry(ctx, backoff.Policy{}, func(context.Context) error {
			calls++
			return backoff.NewTransientError(locked)
		}, nil)
		Expect(backoff.IsExhaustedError(err)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})

	It("should stop when the context is cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		_, err := backoff.Retry(cctx, backoff.Policy{Attempts: 10, Interval: time.Millisecond}, func(context.Context) error {
			calls++
			cancel()
			return backoff.NewTransientError(locked)
		}, nil)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})
})
