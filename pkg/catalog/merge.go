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
	"time"

	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

// MergeOptions controls what Merge writes and what it leaves behind.
type MergeOptions struct {
	// DeleteSource removes the source file after a successful merge.
	DeleteSource bool
	// DeleteMergedEntries keeps the source file but removes the merged
	// records from it. Ignored when DeleteSource is set.
	DeleteMergedEntries bool
	// Replace overwrites records already present in the destination.
	Replace bool
	// Strict rejects source tags the destination does not know.
	Strict bool
}

// Merge copies every record of the catalog at addPath into c in a single
// transaction and returns the number of records read from the source. The
// source is cleaned up afterwards as opts asks.
func (c *Catalog) Merge(ctx context.Context, addPath string, opts MergeOptions) (n int, err error) {
	if c.path == "" {
		return 0, &ValidationError{Op: metrics.OpMerge, Msg: "no destination catalog configured"}
	}

	defer func(start time.Time) { observe(metrics.OpMerge, start, err) }(time.Now())

	log := c.log.With("path", c.path, "source", addPath)
	src := New(addPath, c.cfg, c.log)

	names, records, err := src.Read(ctx, ReadOptions{})
	if err != nil {
		return 0, err
	}

	if len(names) > 0 {
		wopts := WriteOptions{Strict: opts.Strict, Replace: opts.Replace}
		err = c.run(ctx, metrics.OpMerge, c.openWrite, func(ctx context.Context, s *Session) error {
			for _, name := range names {
				if err := s.Write(ctx, name, records[name], wopts); err != nil {
					return err
				}
			}

			return nil
		})
		if err != nil {
			return 0, err
		}
		log.Infow("merged catalog", "records", len(names))
	}

	switch {
	case opts.DeleteSource:
		if err := src.Remove(); err != nil {
			return len(names), &StoreError{Op: metrics.OpMerge, Path: addPath, Err: err}
		}
	case opts.DeleteMergedEntries:
		if err := src.Delete(ctx, names, DeleteOptions{NoVacuum: true}); err != nil {
			return len(names), err
		}
	}

	return len(names), nil
}
