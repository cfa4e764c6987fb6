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

package main

import (
	"context"
	"strings"

	"github.com/united-manufacturing-hub/metacatalog/pkg/catalog"
	"github.com/united-manufacturing-hub/metacatalog/pkg/logger"
	"github.com/united-manufacturing-hub/metacatalog/pkg/scan"
)

func (a *app) openCatalog(path string, component string) (*catalog.Catalog, error) {
	if path == "" {
		return nil, usageError("no catalog file given, use -db or set catalog.path")
	}

	return catalog.New(path, a.cfg.CatalogConfig(), logger.For(component)), nil
}

// records is the JSON shape of a read: names keep the table order.
type records struct {
	Names   []string                `json:"names"`
	Records map[string]catalog.Tags `json:"records"`
}

func newRecords(names []string, recs map[string]catalog.Tags) records {
	if names == nil {
		names = []string{}
	}
	if recs == nil {
		recs = map[string]catalog.Tags{}
	}

	return records{Names: names, Records: recs}
}

func runRead(ctx context.Context, a *app, args []string) error {
	fs := a.flags("read")
	db := fs.String("db", a.cfg.Catalog.Path, "catalog file")
	tags := fs.String("tags", "", "comma separated tags every record must carry; only these are printed")
	sample := fs.Int("sample", 0, "print this many records chosen at random")
	dedup := fs.Bool("dedup", false, "share repeated values while reading")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat, err := a.openCatalog(*db, logger.ComponentCatalog)
	if err != nil {
		return err
	}

	opts := catalog.ReadOptions{RequiredTags: splitList(*tags), Sample: *sample}
	if *dedup {
		opts.Pool = catalog.NewStringPool()
	}

	names, recs, err := cat.Read(ctx, opts)
	if err != nil {
		return err
	}

	if opts.Pool != nil {
		a.log.Debugw("read with shared values", "records", len(names), "distinct_values", opts.Pool.Len())
	}

	return a.print(newRecords(names, recs))
}

func runSelect(ctx context.Context, a *app, args []string) error {
	fs := a.flags("select")
	db := fs.String("db", a.cfg.Catalog.Path, "catalog file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	values, order, err := parseAssignments(fs.Args())
	if err != nil {
		return err
	}

	preds := make([]catalog.Predicate, 0, len(order))
	for _, tag := range order {
		if alternatives := strings.Split(values[tag], "|"); len(alternatives) > 1 {
			preds = append(preds, catalog.In(tag, alternatives...))
		} else {
			preds = append(preds, catalog.Eq(tag, values[tag]))
		}
	}

	cat, err := a.openCatalog(*db, logger.ComponentCatalog)
	if err != nil {
		return err
	}

	names, recs, err := cat.Select(ctx, preds...)
	if err != nil {
		return err
	}

	return a.print(newRecords(names, recs))
}

func runColumns(ctx context.Context, a *app, args []string) error {
	fs := a.flags("columns")
	db := fs.String("db", a.cfg.Catalog.Path, "catalog file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat, err := a.openCatalog(*db, logger.ComponentCatalog)
	if err != nil {
		return err
	}

	columns, err := cat.Columns(ctx)
	if err != nil {
		return err
	}
	if columns == nil {
		columns = []string{}
	}

	return a.print(columns)
}

func runWrite(ctx context.Context, a *app, args []string) error {
	fs := a.flags("write")
	db := fs.String("db", a.cfg.Catalog.Path, "catalog file")
	name := fs.String("name", "", "record name")
	strict := fs.Bool("strict", false, "reject tags the catalog does not know")
	replace := fs.Bool("replace", false, "overwrite an existing record")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return usageError("write needs -name")
	}

	values, _, err := parseAssignments(fs.Args())
	if err != nil {
		return err
	}

	cat, err := a.openCatalog(*db, logger.ComponentCatalog)
	if err != nil {
		return err
	}

	if err := cat.Write(ctx, *name, catalog.Tags(values), catalog.WriteOptions{Strict: *strict, Replace: *replace}); err != nil {
		return err
	}

	return a.print(map[string]any{"written": *name})
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := a.flags("delete")
	db := fs.String("db", a.cfg.Catalog.Path, "catalog file")
	noVacuum := fs.Bool("no-vacuum", false, "skip compacting the file afterwards")
	noRetries := fs.Bool("no-retries", false, "delete in one transaction that yields periodically")
	warn := fs.Bool("warn", false, "log names that are not in the catalog")
	chunk := fs.Int("chunk", 0, "names per transaction, 0 for the configured chunk size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat, err := a.openCatalog(*db, logger.ComponentDeleter)
	if err != nil {
		return err
	}

	names := fs.Args()
	err = cat.Delete(ctx, names, catalog.DeleteOptions{
		ChunkSize: *chunk,
		NoVacuum:  *noVacuum,
		NoRetries: *noRetries,
		Warn:      *warn,
	})
	if err != nil {
		return err
	}

	return a.print(map[string]any{"requested": len(names)})
}

func runMerge(ctx context.Context, a *app, args []string) error {
	fs := a.flags("merge")
	mainPath := fs.String("main", a.cfg.Catalog.Path, "catalog file to merge into")
	addPath := fs.String("add", "", "catalog file to merge from")
	deleteSource := fs.Bool("delete-source", false, "remove the -add file afterwards")
	deleteEntries := fs.Bool("delete-entries", false, "remove the merged records from the -add file afterwards")
	replace := fs.Bool("replace", false, "overwrite records already in -main")
	strict := fs.Bool("strict", false, "reject tags -main does not know")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *addPath == "" {
		return usageError("merge needs -add")
	}

	cat, err := a.openCatalog(*mainPath, logger.ComponentMerge)
	if err != nil {
		return err
	}

	n, err := cat.Merge(ctx, *addPath, catalog.MergeOptions{
		DeleteSource:        *deleteSource,
		DeleteMergedEntries: *deleteEntries,
		Replace:             *replace,
		Strict:              *strict,
	})
	if err != nil {
		return err
	}

	return a.print(map[string]any{"merged": n})
}

func runScan(ctx context.Context, a *app, args []string) error {
	fs := a.flags("scan")
	dir := fs.String("dir", "", "directory to scan")
	db := fs.String("db", a.cfg.Catalog.Path, "catalog file to build")
	require := fs.String("require", "", "comma separated tags selecting artifacts")
	strict := fs.Bool("strict", false, "require every tag of -require")
	exclude := fs.String("exclude", "", "comma separated directory names to skip")
	noExt := fs.Bool("no-ext", false, "record artifacts without their extension")
	restart := fs.Bool("restart", false, "replace an existing catalog file")
	ext := fs.String("ext", strings.Join(scan.DefaultExtensions, ","), "comma separated artifact extensions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dir == "" {
		return usageError("scan needs -dir")
	}

	cat, err := a.openCatalog(*db, logger.ComponentCatalog)
	if err != nil {
		return err
	}

	scanner := scan.NewScanner(nil, logger.For(logger.ComponentScanner))
	added, err := scanner.Dir(ctx, *dir, cat, scan.Options{
		RequiredTags: splitList(*require),
		Strict:       *strict,
		ExcludeDirs:  splitList(*exclude),
		Extensions:   splitList(*ext),
		NoExtension:  *noExt,
		Restart:      *restart,
	})
	if err != nil {
		return err
	}

	return a.print(map[string]any{"added": added})
}

func runVacuum(ctx context.Context, a *app, args []string) error {
	fs := a.flags("vacuum")
	db := fs.String("db", a.cfg.Catalog.Path, "catalog file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat, err := a.openCatalog(*db, logger.ComponentDeleter)
	if err != nil {
		return err
	}

	return cat.Vacuum(ctx)
}
