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
	"sort"
	"strings"
)

const (
	// TableName is the table holding one row per record.
	TableName = "img_info"
	// NameColumn is the primary key column holding the record name.
	NameColumn = "fname"
	// Placeholder is returned for tags a record does not carry.
	Placeholder = "None"

	tempTableName = TableName + "_tmp"
	spaceEscape   = "__"
)

// Tags maps tag names to their values.
type Tags map[string]string

// Names returns the tag names in sorted order.
func (t Tags) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Clone returns a copy of t.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}

	return out
}

// EncodeKey converts a tag name to its column identifier. Spaces become "__".
// Tag names already containing "__" do not survive a round trip.
func EncodeKey(name string) string {
	return strings.ReplaceAll(name, " ", spaceEscape)
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(column string) string {
	return strings.ReplaceAll(column, spaceEscape, " ")
}

// quoteIdent quotes an encoded column or table identifier for use in SQL.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quotedColumn(tag string) string {
	return quoteIdent(EncodeKey(tag))
}
