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

	"github.com/mattn/go-sqlite3"

	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

const memoryPath = ":memory:"

// OpenInMemory copies the catalog into a private in-memory database and
// returns a session on the copy. Selects against the copy never touch the
// file lock. Changes made through the session are lost on Close.
func (c *Catalog) OpenInMemory(ctx context.Context) (*Session, error) {
	if !c.Exists() {
		return nil, &StoreError{Op: metrics.OpRead, Path: c.path, Err: errors.New("catalog file does not exist")}
	}

	var mem *sql.DB
	err := c.retry(ctx, metrics.OpRead, func(ctx context.Context) error {
		db, err := c.copyToMemory(ctx)
		if err != nil {
			return err
		}
		mem = db

		return nil
	})
	if err != nil {
		return nil, err
	}

	tx, err := mem.BeginTx(ctx, nil)
	if err != nil {
		_ = mem.Close()

		return nil, &StoreError{Op: metrics.OpRead, Path: memoryPath, Err: err}
	}

	return &Session{path: memoryPath, cfg: c.cfg, db: mem, tx: tx, log: c.log}, nil
}

func (c *Catalog) copyToMemory(ctx context.Context) (*sql.DB, error) {
	src, err := openDB(ctx, c.path, c.cfg, modeRead)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	// One connection keeps the in-memory database alive for the pool's lifetime.
	dst, err := openDB(ctx, memoryPath, c.cfg, modeWrite)
	if err != nil {
		return nil, err
	}

	if err := backupInto(ctx, dst, src); err != nil {
		_ = dst.Close()

		return nil, err
	}

	return dst, nil
}

func backupInto(ctx context.Context, dst, src *sql.DB) error {
	dstConn, err := dst.Conn(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = dstConn.Close() }()

	srcConn, err := src.Conn(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = srcConn.Close() }()

	return dstConn.Raw(func(dstDriver any) error {
		return srcConn.Raw(func(srcDriver any) error {
			to, ok := dstDriver.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New("destination is not a sqlite3 connection")
			}
			from, ok := srcDriver.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New("source is not a sqlite3 connection")
			}

			bk, err := to.Backup("main", from, "main")
			if err != nil {
				return classify(err)
			}

			if _, err := bk.Step(-1); err != nil {
				_ = bk.Finish()

				return classify(err)
			}

			return classify(bk.Finish())
		})
	})
}
