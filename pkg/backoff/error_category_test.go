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
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/metacatalog/pkg/backoff"
)

var _ = Describe("Error categories", func() {
	It("should classify wrapped errors", func() {
		base := errors.New("database is locked") //nolint:err113 // Test needs dynamic error

		transient := backoff.NewTransientError(base)
		Expect(backoff.IsTransientError(transient)).To(BeTrue())
		Expect(backoff.IsPermanentError(transient)).To(BeFalse())
		Expect(errors.Is(transient, base)).To(BeTrue())

		wrapped := fmt.Errorf("write failed: %w", transient)
		Expect(backoff.IsTransientError(wrapped)).To(BeTrue())
		Expect(backoff.CategoryOf(wrapped)).To(Equal(backoff.CategoryTransient))
	})

	It("should treat uncategorized errors as permanent", func() {
		plain := errors.New("no such column: foo") //nolint:err113 // Test needs dynamic error
		Expect(backoff.CategoryOf(plain)).To(Equal(backoff.CategoryPermanent))

		categorized := backoff.CategorizeError(plain)
		Expect(backoff.IsPermanentError(categorized)).To(BeTrue())

		already := backoff.NewIgnoredError(plain)
		Expect(backoff.CategorizeError(already)).To(BeIdenticalTo(already))
		Expect(backoff.IsIgnoredError(already)).To(BeTrue())
	})

	It("should pass nil through", func() {
		Expect(backoff.NewTransientError(nil)).To(BeNil())
		Expect(backoff.NewPermanentError(nil)).To(BeNil())
		Expect(backoff.CategorizeError(nil)).To(BeNil())
		Expect(backoff.ExtractOriginalError(nil)).To(BeNil())
	})

	It("should extract the innermost error", func() {
		root := errors.New("disk I/O error") //nolint:err113 // Test needs dynamic error
		err := fmt.Errorf("delete: %w", backoff.NewPermanentError(fmt.Errorf("chunk 2: %w", root)))
		Expect(backoff.ExtractOriginalError(err)).To(BeIdenticalTo(root))
	})

	It("should render category names", func() {
		Expect(backoff.CategoryTransient.String()).To(Equal("transient"))
		Expect(backoff.ErrorCategory(42).String()).To(Equal("unknown"))
	})
})
