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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/metacatalog/pkg/catalog"
	"github.com/united-manufacturing-hub/metacatalog/pkg/env"
	"github.com/united-manufacturing-hub/metacatalog/pkg/logger"
)

// Environment variables that override the configuration file.
const (
	EnvDBPath      = "METACATALOG_DB_PATH"
	EnvDBTimeout   = "METACATALOG_DB_TIMEOUT"
	EnvDBAttempts  = "METACATALOG_DB_ATTEMPTS"
	EnvChunkSize   = "METACATALOG_CHUNK_SIZE"
	EnvMetricsFile = "METACATALOG_METRICS_FILE"
	EnvLogLevel    = "LOGGING_LEVEL"
	EnvLogFormat   = "LOGGING_FORMAT"
)

// Config is the full configuration of the metacatalog tools.
type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Logging LoggingConfig `yaml:"logging"`
	// MetricsFile, when set, receives all metrics in the Prometheus text
	// format when the process exits.
	MetricsFile string `yaml:"metricsFile,omitempty"`
}

// CatalogConfig mirrors catalog.Config plus the default catalog path.
// Durations are written as Go duration strings such as "5s".
type CatalogConfig struct {
	Path          string        `yaml:"path,omitempty"`
	Timeout       time.Duration `yaml:"timeout"`
	Attempts      int           `yaml:"attempts"`
	RetryInterval time.Duration `yaml:"retryInterval"`
	ChunkSize     int           `yaml:"chunkSize"`
	YieldInterval time.Duration `yaml:"yieldInterval"`
	RaceDelay     time.Duration `yaml:"raceDelay"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file and no environment
// override is present.
func Default() Config {
	d := catalog.DefaultConfig()

	return Config{
		Catalog: CatalogConfig{
			Timeout:       d.Timeout,
			Attempts:      d.Attempts,
			RetryInterval: d.RetryInterval,
			ChunkSize:     d.ChunkSize,
			YieldInterval: d.YieldInterval,
			RaceDelay:     d.RaceDelay,
		},
		Logging: LoggingConfig{
			Level:  string(logger.ProductionLevel),
			Format: string(logger.FormatPretty),
		},
	}
}

// Load reads the YAML file at path on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the values of keys the document does
// not mention. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

func (c *Config) applyEnv() error {
	var err error

	if c.Catalog.Path, err = env.GetAsString(EnvDBPath, false, c.Catalog.Path); err != nil {
		return err
	}
	if c.Catalog.Timeout, err = env.GetAsDuration(EnvDBTimeout, false, c.Catalog.Timeout); err != nil {
		return err
	}
	if c.Catalog.Attempts, err = env.GetAsInt(EnvDBAttempts, false, c.Catalog.Attempts); err != nil {
		return err
	}
	if c.Catalog.ChunkSize, err = env.GetAsInt(EnvChunkSize, false, c.Catalog.ChunkSize); err != nil {
		return err
	}
	if c.MetricsFile, err = env.GetAsString(EnvMetricsFile, false, c.MetricsFile); err != nil {
		return err
	}
	if c.Logging.Level, err = env.GetAsString(EnvLogLevel, false, c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format, err = env.GetAsString(EnvLogFormat, false, c.Logging.Format); err != nil {
		return err
	}

	return nil
}

// Validate checks the catalog settings.
func (c Config) Validate() error {
	if err := c.CatalogConfig().Validate(); err != nil {
		return fmt.Errorf("invalid catalog configuration: %w", err)
	}

	return nil
}

// CatalogConfig converts the catalog section into the value every catalog
// operation takes.
func (c Config) CatalogConfig() catalog.Config {
	return catalog.Config{
		Timeout:       c.Catalog.Timeout,
		Attempts:      c.Catalog.Attempts,
		RetryInterval: c.Catalog.RetryInterval,
		ChunkSize:     c.Catalog.ChunkSize,
		YieldInterval: c.Catalog.YieldInterval,
		RaceDelay:     c.Catalog.RaceDelay,
	}
}

// LogFormat returns the configured encoder, falling back to PRETTY.
func (c Config) LogFormat() logger.LogFormat {
	return logger.ParseFormat(c.Logging.Format, logger.FormatPretty)
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
