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

// Package scan builds a catalog from a directory of tagged artifacts.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/metacatalog/pkg/catalog"
	"github.com/united-manufacturing-hub/metacatalog/pkg/logger"
	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

// DefaultExtensions are the artifact types picked up when Options.Extensions is empty.
var DefaultExtensions = []string{".png"}

// Options controls which artifacts a scan records.
type Options struct {
	// RequiredTags selects artifacts, see Accepts.
	RequiredTags []string
	// Strict requires every tag in RequiredTags and writes in strict mode.
	Strict bool
	// ExcludeDirs are directory names that are not descended into.
	ExcludeDirs []string
	// Extensions are the file suffixes treated as artifacts.
	Extensions []string
	// NoExtension records artifacts under their path without extension.
	NoExtension bool
	// Known supplies tags for artifacts by record name, so their files are
	// not read.
	Known map[string]catalog.Tags
	// Restart allows replacing an existing catalog file.
	Restart bool
}

// Accepts reports whether an artifact with tags belongs in the catalog. With
// no required tags every artifact is accepted. Otherwise strict mode needs all
// of them and non-strict mode at least one.
func Accepts(tags catalog.Tags, required []string, strict bool) bool {
	if len(required) == 0 {
		return true
	}

	for _, tag := range required {
		_, ok := tags[tag]
		if strict && !ok {
			return false
		}
		if !strict && ok {
			return true
		}
	}

	return strict
}

// Scanner walks directories and records the artifacts it finds.
type Scanner struct {
	reader MetadataReader
	log    *zap.SugaredLogger
}

// NewScanner returns a scanner reading artifact tags through reader. A nil
// reader reads PNG text chunks and falls back to YAML sidecar files.
func NewScanner(reader MetadataReader, log *zap.SugaredLogger) *Scanner {
	if reader == nil {
		reader = Chain{PNGReader{}, SidecarReader{}}
	}

	return &Scanner{reader: reader, log: logger.OrNop(log)}
}

// Dir records every accepted artifact below baseDir in cat, replacing the
// catalog file, and returns the number of records written. All records are
// committed together at the end. An existing catalog file is refused unless
// opts.Restart is set.
func (sc *Scanner) Dir(ctx context.Context, baseDir string, cat *catalog.Catalog, opts Options) (added int, err error) {
	if cat.Exists() && !opts.Restart {
		return 0, &catalog.ValidationError{
			Op:  metrics.OpScan,
			Msg: fmt.Sprintf("catalog %s already exists, a scan only rebuilds it when restart is set", cat.Path()),
		}
	}

	start := time.Now()
	defer func() {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		metrics.ObserveOperation(metrics.OpScan, result, time.Since(start))
	}()

	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	log := sc.log.With("dir", baseDir, "path", cat.Path())

	var session *catalog.Session
	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	err = filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != baseDir && slices.Contains(opts.ExcludeDirs, d.Name()) {
				return filepath.SkipDir
			}

			return nil
		}

		if !hasExtension(d.Name(), extensions) {
			return nil
		}

		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if opts.NoExtension {
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		tags, ok := opts.Known[name]
		if !ok {
			if tags, ok = sc.reader.ReadMetadata(path); !ok {
				log.Debugw("skipping unreadable artifact", "artifact", path)

				return nil
			}
		}

		if !Accepts(tags, opts.RequiredTags, opts.Strict) {
			return nil
		}

		if session == nil {
			if session, err = cat.OpenOrCreate(ctx, tags, true); err != nil {
				return err
			}
		}

		if err := session.Write(ctx, name, tags, catalog.WriteOptions{Strict: opts.Strict}); err != nil {
			return fmt.Errorf("failed to record %s: %w", name, err)
		}
		added++
		log.Debugw("recorded artifact", "name", name)

		return nil
	})
	if err != nil {
		return 0, err
	}

	if session != nil {
		if err := session.Commit(ctx); err != nil {
			return 0, err
		}
	}

	log.Infow("directory scan finished", "added", added, "took", time.Since(start))

	return added, nil
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return false
}
