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
	"fmt"
	"time"
)

const (
	// DefaultTimeout is how long one attempt waits for the file lock.
	DefaultTimeout = 5 * time.Second
	// DefaultAttempts is how many times a locked operation is tried.
	DefaultAttempts = 6
	// DefaultRetryInterval is the pause between two attempts.
	DefaultRetryInterval = 100 * time.Millisecond
	// DefaultChunkSize is the number of names removed per delete transaction.
	DefaultChunkSize = 200
	// DefaultYieldInterval is the pause after every yieldEvery rows of a
	// single-transaction delete.
	DefaultYieldInterval = time.Second
	// DefaultRaceDelay is the pause after losing a table-creation race.
	DefaultRaceDelay = time.Second

	yieldEvery = 100
)

// Config holds the knobs shared by every catalog operation. It is passed
// explicitly; there are no process-wide defaults besides DefaultConfig.
type Config struct {
	Timeout       time.Duration
	Attempts      int
	RetryInterval time.Duration
	ChunkSize     int
	YieldInterval time.Duration
	RaceDelay     time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		Attempts:      DefaultAttempts,
		RetryInterval: DefaultRetryInterval,
		ChunkSize:     DefaultChunkSize,
		YieldInterval: DefaultYieldInterval,
		RaceDelay:     DefaultRaceDelay,
	}
}

// Validate rejects configurations no operation can run with.
func (c Config) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrValidation, c.Timeout)
	case c.Attempts < 1:
		return fmt.Errorf("%w: attempts must be at least 1, got %d", ErrValidation, c.Attempts)
	case c.RetryInterval < 0:
		return fmt.Errorf("%w: retry interval must not be negative, got %s", ErrValidation, c.RetryInterval)
	case c.ChunkSize < 1:
		return fmt.Errorf("%w: chunk size must be at least 1, got %d", ErrValidation, c.ChunkSize)
	case c.YieldInterval < 0:
		return fmt.Errorf("%w: yield interval must not be negative, got %s", ErrValidation, c.YieldInterval)
	case c.RaceDelay < 0:
		return fmt.Errorf("%w: race delay must not be negative, got %s", ErrValidation, c.RaceDelay)
	}

	return nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.Attempts == 0 {
		c.Attempts = d.Attempts
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}

	return c
}
