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
	"fmt"
	"sort"
)

// ReadOptions selects what a read returns.
type ReadOptions struct {
	// RequiredTags restricts each record to these tags. Every listed tag must
	// be present for every record, otherwise the read fails.
	RequiredTags []string
	// Pool, when set, receives every returned value and the records reference
	// the pooled copies.
	Pool *StringPool
	// Sample, when positive, reads that many records chosen at random.
	Sample int
}

func (o ReadOptions) validate() error {
	if o.Sample < 0 {
		return &ValidationError{Op: "read", Msg: fmt.Sprintf("sample size must be positive, got %d", o.Sample)}
	}

	if o.RequiredTags == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(o.RequiredTags))
	for _, tag := range o.RequiredTags {
		if tag == "" {
			return &ValidationError{Op: "read", Msg: "required tags must not be empty strings"}
		}
		if _, dup := seen[tag]; dup {
			return &ValidationError{Op: "read", Msg: "required tags must be unique", Tags: []string{tag}}
		}
		seen[tag] = struct{}{}
	}

	return nil
}

// ReadAll returns every record of the catalog, or a random sample of them.
// Names are returned in table order. An empty table yields nil, nil.
func (s *Session) ReadAll(ctx context.Context, opts ReadOptions) ([]string, map[string]Tags, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}

	return s.readAll(ctx, opts)
}

func (s *Session) readAll(ctx context.Context, opts ReadOptions) ([]string, map[string]Tags, error) {
	table := quoteIdent(TableName)

	var (
		rows *sql.Rows
		err  error
	)
	if opts.Sample > 0 {
		rows, err = s.query(ctx,
			"SELECT * FROM "+table+" WHERE "+NameColumn+" IN (SELECT "+NameColumn+" FROM "+table+" ORDER BY RANDOM() LIMIT ?)",
			opts.Sample)
	} else {
		rows, err = s.query(ctx, "SELECT * FROM "+table)
	}
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	return convertRows(rows, opts.RequiredTags, opts.Pool)
}

// convertRows turns the rows of a SELECT * into records. NULL values read as
// Placeholder.
func convertRows(rows *sql.Rows, required []string, pool *StringPool) ([]string, map[string]Tags, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, classify(err)
	}

	nameIdx := -1
	for i, c := range cols {
		if c == NameColumn {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, nil, fmt.Errorf("result has no %s column", NameColumn)
	}

	tagNames := make([]string, len(cols))
	for i, c := range cols {
		tagNames[i] = DecodeKey(c)
	}

	var wanted map[string]struct{}
	if required != nil {
		wanted = make(map[string]struct{}, len(required))
		for _, tag := range required {
			wanted[tag] = struct{}{}
		}
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	var (
		names   []string
		records = make(map[string]Tags)
	)

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, classify(err)
		}

		name := textOf(values[nameIdx])
		tags := make(Tags, len(cols)-1)

		for i, tag := range tagNames {
			if i == nameIdx {
				continue
			}
			if wanted != nil {
				if _, ok := wanted[tag]; !ok {
					continue
				}
			}

			v := textOf(values[i])
			if pool != nil {
				v = pool.Intern(v)
			}
			tags[tag] = v
		}

		if wanted != nil && len(tags) != len(wanted) {
			return nil, nil, &ValidationError{
				Op:   "read",
				Msg:  fmt.Sprintf("record %q does not contain all of the required tags", name),
				Tags: missingTags(required, tags),
			}
		}

		names = append(names, name)
		records[name] = tags
	}

	if err := rows.Err(); err != nil {
		return nil, nil, classify(err)
	}

	if len(names) == 0 {
		return nil, nil, nil
	}

	return names, records, nil
}

func textOf(v sql.NullString) string {
	if !v.Valid {
		return Placeholder
	}

	return v.String
}

func missingTags(required []string, tags Tags) []string {
	var missing []string
	for _, tag := range required {
		if _, ok := tags[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	sort.Strings(missing)

	return missing
}
