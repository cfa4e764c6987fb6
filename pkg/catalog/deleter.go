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
	"database/sql"
	"errors"
	"time"

	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

// DeleteOptions controls a bulk delete. The zero value deletes in retried
// chunks and vacuums afterwards.
type DeleteOptions struct {
	// ChunkSize is the number of names removed per transaction in chunked
	// mode. Zero means Config.ChunkSize.
	ChunkSize int
	// NoVacuum skips compacting the file once every name is deleted.
	NoVacuum bool
	// NoRetries deletes all names in one long transaction that commits and
	// pauses every hundred rows instead of retrying chunks on lock contention.
	NoRetries bool
	// Warn logs every name that was not in the catalog.
	Warn bool
}

// DefaultDeleteOptions returns chunked deletion followed by a vacuum.
func DefaultDeleteOptions() DeleteOptions {
	return DeleteOptions{}
}

func deleteStatement() string {
	return "DELETE FROM " + quoteIdent(TableName) + " WHERE " + NameColumn + " = ?"
}

// deleteNames removes names inside the session transaction and returns how
// many rows went away. yield, when set, is called after every yieldEvery rows.
func (s *Session) deleteNames(ctx context.Context, names []string, warn bool, yield func(ctx context.Context) error) (int, error) {
	tx, err := s.active()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, deleteStatement())
	if err != nil {
		return 0, classify(err)
	}
	defer func() {
		if stmt != nil {
			_ = stmt.Close()
		}
	}()

	deleted := 0
	for i, name := range names {
		res, err := stmt.ExecContext(ctx, name)
		if err != nil {
			return deleted, classify(err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return deleted, classify(err)
		}
		if n == 0 && warn {
			s.log.Warnw("record not in catalog, nothing to delete", "path", s.path, "name", name)
		}
		deleted += int(n)

		if yield != nil && (i+1)%yieldEvery == 0 && i+1 < len(names) {
			// The statement belongs to the transaction the yield commits.
			_ = stmt.Close()
			stmt = nil
			if err := yield(ctx); err != nil {
				return deleted, err
			}
			if tx, err = s.active(); err != nil {
				return deleted, err
			}
			next, err := tx.PrepareContext(ctx, deleteStatement())
			if err != nil {
				return deleted, classify(err)
			}
			stmt = next
		}
	}

	return deleted, nil
}

// Delete removes the named records. Names that are not present are skipped.
// A missing file or table is logged and treated as nothing to delete.
func (c *Catalog) Delete(ctx context.Context, names []string, opts DeleteOptions) (err error) {
	if len(names) == 0 || !c.Exists() {
		return nil
	}

	defer func(start time.Time) { observe(metrics.OpDelete, start, err) }(time.Now())

	log := c.log.With("path", c.path)

	var deleted int
	if opts.NoRetries {
		deleted, err = c.deleteInOneTransaction(ctx, names, opts)
	} else {
		deleted, err = c.deleteChunked(ctx, names, opts)
	}
	metrics.AddRecordsDeleted(deleted)

	switch {
	case errors.Is(err, ErrNoTable):
		log.Warnw("catalog has no table, nothing to delete", "names", len(names))

		return nil
	case err != nil:
		return err
	}

	log.Debugw("deleted records", "requested", len(names), "deleted", deleted)

	if !opts.NoVacuum {
		return c.Vacuum(ctx)
	}

	return nil
}

func (c *Catalog) deleteChunked(ctx context.Context, names []string, opts DeleteOptions) (int, error) {
	size := opts.ChunkSize
	if size <= 0 {
		size = c.cfg.ChunkSize
	}

	total := 0
	for start := 0; start < len(names); start += size {
		chunk := names[start:min(start+size, len(names))]

		var n int
		err := c.run(ctx, metrics.OpDelete, c.openWrite, func(ctx context.Context, s *Session) error {
			var derr error
			n, derr = s.deleteNames(ctx, chunk, opts.Warn, nil)

			return derr
		})
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func (c *Catalog) deleteInOneTransaction(ctx context.Context, names []string, opts DeleteOptions) (int, error) {
	s, err := c.openWrite(ctx)
	if err != nil {
		return 0, &StoreError{Op: metrics.OpDelete, Path: c.path, Err: err}
	}
	defer func() { _ = s.Close() }()

	n, err := s.deleteNames(ctx, names, opts.Warn, func(ctx context.Context) error {
		return s.Pause(ctx, c.cfg.YieldInterval)
	})
	if err == nil {
		err = s.finish()
	}
	if err != nil {
		return n, &StoreError{Op: metrics.OpDelete, Path: c.path, Err: err}
	}

	return n, nil
}

// Vacuum compacts the catalog file. It runs outside any transaction on a
// connection of its own.
func (c *Catalog) Vacuum(ctx context.Context) (err error) {
	if !c.Exists() {
		return nil
	}

	defer func(start time.Time) { observe(metrics.OpVacuum, start, err) }(time.Now())

	return c.retry(ctx, metrics.OpVacuum, func(ctx context.Context) error {
		db, err := openDB(ctx, c.path, c.cfg, modeWrite)
		if err != nil {
			return err
		}
		defer func(db *sql.DB) { _ = db.Close() }(db)

		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return classify(err)
		}

		return nil
	})
}
