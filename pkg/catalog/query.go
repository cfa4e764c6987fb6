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
	"strings"
)

// Predicate restricts a selection to records whose tag matches one of Values.
type Predicate struct {
	Tag    string
	Values []string
	set    bool
}

// Eq matches records whose tag equals value.
func Eq(tag, value string) Predicate {
	return Predicate{Tag: tag, Values: []string{value}}
}

// In matches records whose tag equals any of values.
func In(tag string, values ...string) Predicate {
	return Predicate{Tag: tag, Values: values, set: true}
}

func (p Predicate) clause() (string, []any) {
	col := quotedColumn(p.Tag)
	args := make([]any, len(p.Values))
	for i, v := range p.Values {
		args[i] = v
	}

	if !p.set && len(p.Values) == 1 {
		return col + " = ?", args
	}

	return col + " IN (" + placeholders(len(p.Values)) + ")", args
}

// Select returns the records matching every predicate. Predicates are ANDed
// in the order given; no predicate at all reads the whole catalog.
func (s *Session) Select(ctx context.Context, preds ...Predicate) ([]string, map[string]Tags, error) {
	if len(preds) == 0 {
		return s.ReadAll(ctx, ReadOptions{})
	}

	clauses := make([]string, 0, len(preds))
	var args []any
	for _, p := range preds {
		if p.Tag == "" {
			return nil, nil, &ValidationError{Op: "select", Msg: "predicate without tag name"}
		}
		c, a := p.clause()
		clauses = append(clauses, c)
		args = append(args, a...)
	}

	rows, err := s.query(ctx, "SELECT * FROM "+quoteIdent(TableName)+" WHERE "+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	return convertRows(rows, nil, nil)
}
