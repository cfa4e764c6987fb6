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
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/metacatalog/pkg/logger"
)

type openMode int

const (
	modeRead openMode = iota
	modeWrite
)

// Session is one open connection to a catalog file with one transaction in
// flight. Nothing written through a Session is visible to other processes
// before Commit.
type Session struct {
	path string
	cfg  Config
	db   *sql.DB
	tx   *sql.Tx
	log  *zap.SugaredLogger
}

func buildConnectionString(path string, cfg Config, mode openMode) string {
	params := "?_busy_timeout=" + strconv.FormatInt(cfg.Timeout.Milliseconds(), 10) + "&_synchronous=FULL"

	// Writers take the lock when the transaction starts instead of upgrading
	// a shared lock later, which SQLite may refuse without waiting.
	if mode == modeWrite {
		params += "&_txlock=immediate"
	}

	if runtime.GOOS == "darwin" {
		params += "&_fullfsync=1"
	}

	return path + params
}

func openDB(ctx context.Context, path string, cfg Config, mode openMode) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", buildConnectionString(path, cfg, mode))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, classify(err)
	}

	return db, nil
}

func newSession(ctx context.Context, path string, cfg Config, mode openMode, log *zap.SugaredLogger) (*Session, error) {
	db, err := openDB(ctx, path, cfg, mode)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close()

		return nil, classify(err)
	}

	return &Session{
		path: path,
		cfg:  cfg,
		db:   db,
		tx:   tx,
		log:  logger.OrNop(log),
	}, nil
}

// OpenExisting opens the catalog file at path for writing without touching
// its schema. A missing file is created empty by the store.
func OpenExisting(ctx context.Context, path string, cfg Config, log *zap.SugaredLogger) (*Session, error) {
	return newSession(ctx, path, cfg.withDefaults(), modeWrite, log)
}

// OpenOrCreate opens the catalog file at path, creating the file and the
// record table (with one column per tag of sample) when either is missing.
// With restart set an existing file is deleted first. Invalid tag names in
// sample are rejected before the file is touched.
func OpenOrCreate(ctx context.Context, path string, sample Tags, restart bool, cfg Config, log *zap.SugaredLogger) (*Session, error) {
	if err := validateTagNames("open", sample); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	exists := fileExists(path)

	if exists && restart {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove catalog for restart: %w", err)
		}
		exists = false
	}

	s, err := newSession(ctx, path, cfg, modeWrite, log)
	if err != nil {
		return nil, err
	}

	if exists {
		ok, err := s.hasTable(ctx, TableName)
		if err != nil {
			_ = s.Close()

			return nil, err
		}
		if ok {
			return s, nil
		}
	}

	if err := s.CreateTable(ctx, sample.Names()); err != nil {
		_ = s.Close()

		return nil, err
	}

	return s, nil
}

// Path returns the file the session is bound to.
func (s *Session) Path() string {
	return s.path
}

// Commit makes every change since the last commit visible and starts a new
// transaction, so the session stays usable.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.finish(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	s.tx = tx

	return nil
}

// Pause commits, waits d with no transaction open so other processes can
// take the file lock, then starts a new transaction.
func (s *Session) Pause(ctx context.Context, d time.Duration) error {
	if err := s.finish(); err != nil {
		return err
	}

	if err := sleepCtx(ctx, d); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	s.tx = tx

	return nil
}

// finish commits the open transaction without starting another.
func (s *Session) finish() error {
	if s.tx == nil {
		return errors.New("session has no open transaction")
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return classify(err)
	}

	return nil
}

// Close rolls back anything not committed and releases the connection.
func (s *Session) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}

	if s.db == nil {
		return nil
	}

	db := s.db
	s.db = nil

	return db.Close()
}

func (s *Session) active() (*sql.Tx, error) {
	if s.tx == nil {
		return nil, errors.New("session is closed")
	}

	return s.tx, nil
}

func (s *Session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := s.active()
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}

	return res, nil
}

func (s *Session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := s.active()
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}

	return rows, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// RemoveFile deletes a catalog file. A file that is already gone is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
