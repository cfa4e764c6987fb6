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
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/metacatalog/pkg/logger"
	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

// ListTables returns the names of all tables in the catalog file, sorted.
func (s *Session) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify(err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return names, nil
}

func (s *Session) hasTable(ctx context.Context, table string) (bool, error) {
	tables, err := s.ListTables(ctx)
	if err != nil {
		return false, err
	}

	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}

	return false, nil
}

// Columns returns the tag names known to the catalog in column order. The
// name column is not included. A missing table yields an error wrapping ErrNoTable.
func (s *Session) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, "SELECT * FROM "+quoteIdent(TableName)+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	return decodeColumns(cols), nil
}

func decodeColumns(cols []string) []string {
	tags := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == NameColumn {
			continue
		}
		tags = append(tags, DecodeKey(c))
	}

	return tags
}

func createTableStatement(table string, tags []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(table))
	b.WriteString("(")
	b.WriteString(NameColumn)
	b.WriteString(" TEXT PRIMARY KEY")
	for _, tag := range tags {
		b.WriteString(", ")
		b.WriteString(quotedColumn(tag))
		b.WriteString(" TEXT")
	}
	b.WriteString(")")

	return b.String()
}

// CreateTable creates the record table with one text column per tag, in the
// given order. Losing a creation race against another process is not an error:
// after RaceDelay the table is checked and, if it now exists, accepted as is.
func (s *Session) CreateTable(ctx context.Context, tags []string) error {
	_, err := s.exec(ctx, createTableStatement(TableName, tags))
	if err == nil {
		return nil
	}

	switch {
	case isTableExists(err):
		s.schemaLog().Infow("catalog table created concurrently by another process", "path", s.path)
		if err := sleepCtx(ctx, s.cfg.RaceDelay); err != nil {
			return err
		}

		ok, verr := s.hasTable(ctx, TableName)
		if verr != nil {
			return verr
		}
		if !ok {
			return fmt.Errorf("table %s reported as existing but is missing: %w", TableName, err)
		}

		return nil
	case isLocked(err):
		// Another writer holds the file while creating the same table.
		s.schemaLog().Warnw("catalog locked during table creation, assuming it was created concurrently", "path", s.path)

		return sleepCtx(ctx, s.cfg.RaceDelay)
	default:
		return err
	}
}

// MigrateAddColumns rewrites the record table so that it holds the columns
// current followed by added. Existing records keep their values and get
// Placeholder for every added column. Nothing is committed here: until the
// caller commits, other connections keep seeing the old table.
func (s *Session) MigrateAddColumns(ctx context.Context, current, added []string) error {
	s.schemaLog().Warnw("recreating catalog table with new tags", "path", s.path, "tags", added)
	metrics.IncSchemaMigration()
	start := time.Now()

	names, records, err := s.readAll(ctx, ReadOptions{})
	if err != nil {
		return err
	}

	stale, err := s.hasTable(ctx, tempTableName)
	if err != nil {
		return err
	}
	if stale {
		s.schemaLog().Warnw("stale temporary table found, overwriting it", "path", s.path, "table", tempTableName)
		if _, err := s.exec(ctx, "DROP TABLE "+quoteIdent(tempTableName)); err != nil {
			return err
		}
	}

	if _, err := s.exec(ctx, "ALTER TABLE "+quoteIdent(TableName)+" RENAME TO "+quoteIdent(tempTableName)); err != nil {
		return err
	}

	columns := make([]string, 0, len(current)+len(added))
	seen := make(map[string]struct{}, len(current)+len(added))
	for _, c := range append(append([]string{}, current...), added...) {
		if _, dup := seen[c]; dup || c == NameColumn {
			continue
		}
		seen[c] = struct{}{}
		columns = append(columns, c)
	}

	if _, err := s.exec(ctx, createTableStatement(TableName, columns)); err != nil {
		return err
	}

	if err := s.insertRows(ctx, columns, names, records); err != nil {
		return err
	}

	if _, err := s.exec(ctx, "DROP TABLE "+quoteIdent(tempTableName)); err != nil {
		return err
	}

	metrics.ObserveOperation(metrics.OpMigrate, metrics.ResultOK, time.Since(start))
	s.schemaLog().Infow("catalog table recreated", "path", s.path, "records", len(names), "columns", len(columns), "took", time.Since(start))

	return nil
}

func (s *Session) insertRows(ctx context.Context, columns, names []string, records map[string]Tags) error {
	if len(names) == 0 {
		return nil
	}

	tx, err := s.active()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+quoteIdent(TableName)+" VALUES ("+placeholders(len(columns)+1)+")")
	if err != nil {
		return classify(err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(columns)+1)
	for _, name := range names {
		rec := records[name]
		args[0] = name
		for i, col := range columns {
			if v, ok := rec[col]; ok {
				args[i+1] = v
			} else {
				args[i+1] = Placeholder
			}
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return classify(err)
		}
	}

	return nil
}

func (s *Session) schemaLog() *zap.SugaredLogger {
	return s.log.Named(logger.ComponentSchema)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.Repeat("?, ", n-1) + "?"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
