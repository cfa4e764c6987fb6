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

// Package catalog persists tag maps for named artifacts in a single SQLite
// file shared by many writer processes.
//
// The catalog is one table with a text primary key holding the record name and
// one text column per known tag. The set of columns only grows: writing a tag
// the table does not know yet rewrites the table with the extra column (unless
// strict mode forbids it). Tags a record does not carry read back as
// Placeholder.
//
// Nothing is cached between calls. Every top-level operation opens its own
// connection, runs inside one transaction and commits at the end. When the file
// is locked by another process the whole attempt is repeated, up to
// Config.Attempts times, each attempt waiting at most Config.Timeout for the
// lock. All other errors are returned on first occurrence.
package catalog
