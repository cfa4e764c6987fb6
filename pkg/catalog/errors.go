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
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/united-manufacturing-hub/metacatalog/pkg/backoff"
)

var (
	// ErrValidation marks bad input: unknown tags in strict mode, malformed
	// read options, an empty tag map. Returned before the store is touched
	// whenever possible.
	ErrValidation = errors.New("validation error")
	// ErrNoTable marks a catalog file without the record table.
	ErrNoTable = errors.New("catalog table does not exist")
	// ErrRetriesExhausted marks an operation that stayed locked for every attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrIO marks a disk I/O failure reported by the store.
	ErrIO = errors.New("disk I/O error")
	// ErrEmptyTags marks a write without any tag.
	ErrEmptyTags = errors.New("tag map is empty")
)

// ValidationError describes rejected input. Err optionally names a more
// specific sentinel such as ErrEmptyTags.
type ValidationError struct {
	Op   string
	Msg  string
	Tags []string
	Err  error
}

func (e *ValidationError) Error() string {
	if len(e.Tags) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}

	return fmt.Sprintf("%s: %s: %s", e.Op, e.Msg, strings.Join(e.Tags, ", "))
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}

	return []error{ErrValidation, e.Err}
}

// StoreError attaches the operation and catalog path to an error from the store.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RetriesExhaustedError is returned when every attempt found the file locked.
// Err is the native error of the last attempt.
type RetriesExhaustedError struct {
	Op       string
	Path     string
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s %s: gave up after %d attempts: %v", e.Op, e.Path, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Err}
}

func sqliteCode(err error) (sqlite3.ErrNo, bool) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code, true
	}

	return 0, false
}

// isLocked reports contention on the file lock.
func isLocked(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.ErrBusy || code == sqlite3.ErrLocked
	}

	return strings.Contains(err.Error(), "database is locked")
}

func isNoTable(err error) bool {
	return err != nil && (errors.Is(err, ErrNoTable) || strings.Contains(err.Error(), "no such table"))
}

func isTableExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func isConstraint(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.ErrConstraint
}

func isIOError(err error) bool {
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.ErrIoErr
	}

	return err != nil && strings.Contains(err.Error(), "disk I/O error")
}

// classify tags a store error for the retry loop: lock contention becomes
// transient, a missing table and I/O failures get their sentinel, anything
// else passes through and is treated as permanent.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case backoff.CategoryOf(err) != backoff.CategoryPermanent:
		return err
	case isLocked(err):
		return backoff.NewTransientError(err)
	case isIOError(err):
		return fmt.Errorf("%w: %w", ErrIO, err)
	case isNoTable(err) && !errors.Is(err, ErrNoTable):
		return fmt.Errorf("%w: %w", ErrNoTable, err)
	default:
		return err
	}
}
