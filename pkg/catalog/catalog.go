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
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/metacatalog/pkg/backoff"
	"github.com/united-manufacturing-hub/metacatalog/pkg/logger"
	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

// Catalog is a handle on a catalog file. It holds no connection: every
// method opens its own, so a Catalog may be shared freely and copied.
type Catalog struct {
	path string
	cfg  Config
	log  *zap.SugaredLogger
}

// New returns a handle on the catalog file at path. An empty path means no
// catalog is configured: writes become no-ops and reads return nothing.
func New(path string, cfg Config, log *zap.SugaredLogger) *Catalog {
	return &Catalog{
		path: path,
		cfg:  cfg.withDefaults(),
		log:  logger.OrNop(log),
	}
}

// Path returns the catalog file path.
func (c *Catalog) Path() string {
	return c.path
}

// Config returns the effective configuration.
func (c *Catalog) Config() Config {
	return c.cfg
}

// Exists reports whether the catalog file is present.
func (c *Catalog) Exists() bool {
	return c.path != "" && fileExists(c.path)
}

// retry runs attempt under the lock-retry policy and turns its failure into
// a *RetriesExhaustedError, a *ValidationError or a *StoreError.
func (c *Catalog) retry(ctx context.Context, op string, attempt backoff.Operation) error {
	log := c.log.With("op", op, "op_id", uuid.NewString(), "path", c.path)
	policy := backoff.Policy{Attempts: c.cfg.Attempts, Interval: c.cfg.RetryInterval}

	attempts, err := backoff.Retry(ctx, policy, attempt, func(err error, n int, elapsed time.Duration) {
		metrics.IncLockRetry(op)
		log.Warnw("catalog file is locked, retrying",
			"attempt", n,
			"waited", time.Duration(n)*c.cfg.Timeout,
			"elapsed", elapsed,
			"error", err)
	})
	if err == nil {
		return nil
	}

	if backoff.IsExhaustedError(err) {
		return &RetriesExhaustedError{
			Op:       op,
			Path:     c.path,
			Attempts: attempts,
			Err:      backoff.ExtractOriginalError(err),
		}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}

	return &StoreError{Op: op, Path: c.path, Err: err}
}

// run opens a fresh session per attempt, runs body and commits.
func (c *Catalog) run(ctx context.Context, op string, open func(ctx context.Context) (*Session, error), body func(ctx context.Context, s *Session) error) error {
	return c.retry(ctx, op, func(ctx context.Context) error {
		s, err := open(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := body(ctx, s); err != nil {
			return err
		}

		return s.finish()
	})
}

func (c *Catalog) openWrite(ctx context.Context) (*Session, error) {
	return newSession(ctx, c.path, c.cfg, modeWrite, c.log)
}

func (c *Catalog) openRead(ctx context.Context) (*Session, error) {
	return newSession(ctx, c.path, c.cfg, modeRead, c.log)
}

func (c *Catalog) openOrCreate(sample Tags) func(ctx context.Context) (*Session, error) {
	return func(ctx context.Context) (*Session, error) {
		return OpenOrCreate(ctx, c.path, sample, false, c.cfg, c.log)
	}
}

func observe(op string, start time.Time, err error) {
	result := metrics.ResultOK
	switch {
	case errors.Is(err, ErrRetriesExhausted):
		result = metrics.ResultExhausted
	case err != nil:
		result = metrics.ResultError
	}
	metrics.ObserveOperation(op, result, time.Since(start))
}

// OpenOrCreate opens a session on the catalog for batched writes, creating the
// file and table from sample when needed. The caller commits and closes it.
// No retry is applied.
func (c *Catalog) OpenOrCreate(ctx context.Context, sample Tags, restart bool) (*Session, error) {
	s, err := OpenOrCreate(ctx, c.path, sample, restart, c.cfg, c.log)
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return nil, ve
	case err != nil:
		return nil, &StoreError{Op: "open", Path: c.path, Err: err}
	}

	return s, nil
}

// Write stores one record and commits. An empty tag map, an empty name or an
// invalid tag name is an error even when no catalog is configured; with an
// empty path nothing else happens.
func (c *Catalog) Write(ctx context.Context, name string, tags Tags, opts WriteOptions) (err error) {
	if len(tags) == 0 {
		return &ValidationError{Op: metrics.OpWrite, Msg: "tag map is empty", Err: ErrEmptyTags}
	}
	if err := validateRecord(metrics.OpWrite, name, tags); err != nil {
		return err
	}
	if c.path == "" {
		return nil
	}

	defer func(start time.Time) { observe(metrics.OpWrite, start, err) }(time.Now())

	return c.run(ctx, metrics.OpWrite, c.openOrCreate(tags), func(ctx context.Context, s *Session) error {
		return s.Write(ctx, name, tags, opts)
	})
}

// Read returns the record names in table order and the records by name. A
// missing file, a file without table and an empty table all yield nil, nil.
func (c *Catalog) Read(ctx context.Context, opts ReadOptions) (names []string, records map[string]Tags, err error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	if !c.Exists() {
		return nil, nil, nil
	}

	defer func(start time.Time) { observe(metrics.OpRead, start, err) }(time.Now())

	err = c.run(ctx, metrics.OpRead, c.openRead, func(ctx context.Context, s *Session) error {
		var rerr error
		names, records, rerr = s.readAll(ctx, opts)
		if isNoTable(rerr) {
			names, records = nil, nil

			return nil
		}

		return rerr
	})
	if err != nil {
		return nil, nil, err
	}

	return names, records, nil
}

// Select returns the records matching every predicate, see Session.Select.
func (c *Catalog) Select(ctx context.Context, preds ...Predicate) (names []string, records map[string]Tags, err error) {
	if !c.Exists() {
		return nil, nil, nil
	}

	defer func(start time.Time) { observe(metrics.OpSelect, start, err) }(time.Now())

	err = c.run(ctx, metrics.OpSelect, c.openRead, func(ctx context.Context, s *Session) error {
		var serr error
		names, records, serr = s.Select(ctx, preds...)
		if isNoTable(serr) {
			names, records = nil, nil

			return nil
		}

		return serr
	})
	if err != nil {
		return nil, nil, err
	}

	return names, records, nil
}

// Columns returns the tag names known to the catalog. A missing file or
// table yields nil.
func (c *Catalog) Columns(ctx context.Context) (columns []string, err error) {
	if !c.Exists() {
		return nil, nil
	}

	err = c.run(ctx, metrics.OpRead, c.openRead, func(ctx context.Context, s *Session) error {
		var cerr error
		columns, cerr = s.Columns(ctx)
		if isNoTable(cerr) {
			columns = nil

			return nil
		}

		return cerr
	})

	return columns, err
}

// Remove deletes the catalog file.
func (c *Catalog) Remove() error {
	if c.path == "" {
		return nil
	}

	return RemoveFile(c.path)
}
