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

package catalog

import (
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/metacatalog/pkg/backoff"
)

var _ = Describe("Key codec", func() {
	DescribeTable("should round-trip tag names",
		func(name, column string) {
			Expect(EncodeKey(name)).To(Equal(column))
			Expect(DecodeKey(column)).To(Equal(name))
		},
		Entry("plain", "model", "model"),
		Entry("one space", "lead time", "lead__time"),
		Entry("several spaces", "a b c", "a__b__c"),
		Entry("empty", "", ""),
	)

	It("should not round-trip names already holding the escape", func() {
		Expect(DecodeKey(EncodeKey("a__b"))).To(Equal("a b"))
	})

	It("should quote identifiers", func() {
		Expect(quotedColumn("lead time")).To(Equal(`"lead__time"`))
		Expect(quoteIdent(`we"ird`)).To(Equal(`"we""ird"`))
	})
})

var _ = Describe("Statements", func() {
	It("should build the table definition in tag order", func() {
		Expect(createTableStatement(TableName, []string{"b", "a b"})).To(Equal(
			`CREATE TABLE "img_info"(fname TEXT PRIMARY KEY, "b" TEXT, "a__b" TEXT)`))
	})

	It("should build inserts over the given tags only", func() {
		Expect(insertStatement("INSERT", []string{"model"})).To(Equal(
			`INSERT INTO "img_info"(fname, "model") VALUES(?, ?)`))
		Expect(insertStatement("INSERT OR REPLACE", nil)).To(Equal(
			`INSERT OR REPLACE INTO "img_info"(fname) VALUES(?)`))
	})

	It("should build predicate clauses", func() {
		clause, args := Eq("model", "x").clause()
		Expect(clause).To(Equal(`"model" = ?`))
		Expect(args).To(Equal([]any{"x"}))

		clause, args = In("lead time", "1", "2").clause()
		Expect(clause).To(Equal(`"lead__time" IN (?, ?)`))
		Expect(args).To(Equal([]any{"1", "2"}))

		clause, _ = In("model", "x").clause()
		Expect(clause).To(Equal(`"model" IN (?)`))
	})

	It("should build connection strings per mode", func() {
		cfg := Config{Timeout: 1500 * time.Millisecond}
		Expect(buildConnectionString("/tmp/a.db", cfg, modeRead)).To(HavePrefix("/tmp/a.db?_busy_timeout=1500&_synchronous=FULL"))
		Expect(buildConnectionString("/tmp/a.db", cfg, modeRead)).NotTo(ContainSubstring("_txlock"))
		Expect(buildConnectionString("/tmp/a.db", cfg, modeWrite)).To(ContainSubstring("&_txlock=immediate"))
	})
})

var _ = Describe("Error classification", func() {
	It("should mark lock contention as transient", func() {
		Expect(backoff.IsTransientError(classify(sqlite3.Error{Code: sqlite3.ErrBusy}))).To(BeTrue())
		Expect(backoff.IsTransientError(classify(sqlite3.Error{Code: sqlite3.ErrLocked}))).To(BeTrue())
	})

	It("should mark disk failures with ErrIO", func() {
		err := classify(sqlite3.Error{Code: sqlite3.ErrIoErr})
		Expect(errors.Is(err, ErrIO)).To(BeTrue())
		Expect(backoff.IsTransientError(err)).To(BeFalse())
	})

	It("should mark a missing table with ErrNoTable", func() {
		err := classify(errors.New("no such table: img_info")) //nolint:err113 // Test needs dynamic error
		Expect(errors.Is(err, ErrNoTable)).To(BeTrue())
		Expect(isNoTable(err)).To(BeTrue())
	})

	It("should leave other errors alone", func() {
		orig := errors.New("syntax error") //nolint:err113 // Test needs dynamic error
		Expect(classify(orig)).To(BeIdenticalTo(orig))
		Expect(classify(nil)).To(Succeed())
		Expect(isConstraint(sqlite3.Error{Code: sqlite3.ErrConstraint})).To(BeTrue())
	})
})

var _ = Describe("Config", func() {
	It("should accept the defaults", func() {
		Expect(DefaultConfig().Validate()).To(Succeed())
	})

	It("should reject values no operation can run with", func() {
		cfg := DefaultConfig()
		cfg.Attempts = 0
		Expect(errors.Is(cfg.Validate(), ErrValidation)).To(BeTrue())

		cfg = DefaultConfig()
		cfg.ChunkSize = -1
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("chunk size")))
	})

	It("should fill zero values from the defaults", func() {
		cfg := Config{Attempts: 2}.withDefaults()
		Expect(cfg.Attempts).To(Equal(2))
		Expect(cfg.Timeout).To(Equal(DefaultTimeout))
		Expect(cfg.ChunkSize).To(Equal(DefaultChunkSize))
	})
})

var _ = Describe("StringPool", func() {
	It("should be usable as a zero value", func() {
		var pool StringPool
		a := pool.Intern("v")
		b := pool.Intern(string([]byte{'v'}))
		Expect(a).To(Equal(b))
		Expect(pool.Len()).To(Equal(1))
		i, ok := pool.Index("v")
		Expect(ok).To(BeTrue())
		Expect(i).To(BeZero())
	})
})
