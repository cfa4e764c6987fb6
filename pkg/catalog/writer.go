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
	"context"
	"errors"
	"strings"

	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

// WriteOptions controls how a record is written.
type WriteOptions struct {
	// Strict rejects tags the catalog does not know yet instead of adding
	// columns for them.
	Strict bool
	// Replace overwrites an existing record of the same name. Otherwise the
	// existing record is kept and the write is a no-op.
	Replace bool
}

func insertStatement(verb string, tags []string) string {
	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(" INTO ")
	b.WriteString(quoteIdent(TableName))
	b.WriteString("(")
	b.WriteString(NameColumn)
	for _, tag := range tags {
		b.WriteString(", ")
		b.WriteString(quotedColumn(tag))
	}
	b.WriteString(") VALUES(")
	b.WriteString(placeholders(len(tags) + 1))
	b.WriteString(")")

	return b.String()
}

// Write stores one record with exactly the supplied tags. Tags unknown to the
// catalog are an error in strict mode and trigger MigrateAddColumns otherwise.
// A missing table is created from tags.
func (s *Session) Write(ctx context.Context, name string, tags Tags, opts WriteOptions) error {
	if err := validateRecord(metrics.OpWrite, name, tags); err != nil {
		return err
	}

	keys := tags.Names()
	columns, err := s.Columns(ctx)
	switch {
	case errors.Is(err, ErrNoTable):
		if err := s.CreateTable(ctx, keys); err != nil {
			return err
		}
		columns = keys
	case err != nil:
		return err
	}

	if unknown := unknownTags(keys, columns); len(unknown) > 0 {
		if opts.Strict {
			return &ValidationError{
				Op:   "write",
				Msg:  "tags not present in the catalog",
				Tags: unknown,
			}
		}

		if err := s.MigrateAddColumns(ctx, columns, unknown); err != nil {
			return err
		}
	}

	args := make([]any, 0, len(keys)+1)
	args = append(args, name)
	for _, k := range keys {
		args = append(args, tags[k])
	}

	insert := insertStatement("INSERT", keys)

	_, err = s.exec(ctx, insert, args...)
	if isNoTable(err) {
		// The table vanished between the schema check and the insert.
		if err := s.CreateTable(ctx, keys); err != nil {
			return err
		}
		_, err = s.exec(ctx, insert, args...)
	}

	switch {
	case err == nil:
		metrics.AddRecordsWritten(1)

		return nil
	case isConstraint(err):
		if !opts.Replace {
			s.log.Debugw("record already in catalog, keeping it", "path", s.path, "name", name)

			return nil
		}

		if _, err := s.exec(ctx, insertStatement("INSERT OR REPLACE", keys), args...); err != nil {
			return err
		}
		metrics.AddRecordsWritten(1)

		return nil
	default:
		return err
	}
}

// validateRecord rejects an empty record name and tag names the store cannot
// hold as columns.
func validateRecord(op, name string, tags Tags) error {
	if name == "" {
		return &ValidationError{Op: op, Msg: "record name must not be empty"}
	}

	return validateTagNames(op, tags)
}

// validateTagNames rejects empty tag names and names that encode to the
// record name column.
func validateTagNames(op string, tags Tags) error {
	for _, k := range tags.Names() {
		if k == "" || EncodeKey(k) == NameColumn {
			return &ValidationError{Op: op, Msg: "invalid tag name", Tags: []string{k}}
		}
	}

	return nil
}

func unknownTags(keys, columns []string) []string {
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c] = struct{}{}
	}

	var unknown []string
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}

	return unknown
}
