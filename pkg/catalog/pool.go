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

// StringPool collapses equal tag values into one shared string. Once a value
// is in the pool, every record read with that pool references the pooled copy.
// The zero value is ready to use. A StringPool is not safe for concurrent use.
type StringPool struct {
	values []string
	index  map[string]int
}

// NewStringPool returns an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{index: make(map[string]int)}
}

// Intern returns the pooled copy of s, adding s to the pool if needed.
func (p *StringPool) Intern(s string) string {
	if p.index == nil {
		p.index = make(map[string]int)
	}

	if i, ok := p.index[s]; ok {
		return p.values[i]
	}

	p.index[s] = len(p.values)
	p.values = append(p.values, s)

	return s
}

// Index returns the position of s in the pool.
func (p *StringPool) Index(s string) (int, bool) {
	i, ok := p.index[s]
	return i, ok
}

// Len returns the number of distinct strings in the pool.
func (p *StringPool) Len() int {
	return len(p.values)
}

// Values returns the pooled strings in insertion order.
func (p *StringPool) Values() []string {
	out := make([]string, len(p.values))
	copy(out, p.values)

	return out
}
