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

// Command metacatalog reads and maintains catalog files from the shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/metacatalog/pkg/config"
	"github.com/united-manufacturing-hub/metacatalog/pkg/logger"
	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

const usage = `usage: metacatalog [-config file] <command> [flags] [args]

commands:
  read     print every record
  select   print the records matching tag=value or tag=v1|v2 predicates
  columns  print the known tag names
  write    store one record from tag=value arguments
  delete   remove the named records
  merge    fold one catalog into another
  scan     rebuild a catalog from a directory of artifacts
  vacuum   compact a catalog file
`

// app carries what every command needs.
type app struct {
	cfg    config.Config
	log    *zap.SugaredLogger
	stdout io.Writer
	stderr io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"read":    runRead,
	"select":  runSelect,
	"columns": runColumns,
	"write":   runWrite,
	"delete":  runDelete,
	"merge":   runMerge,
	"scan":    runScan,
	"vacuum":  runVacuum,
}

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("metacatalog", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "", "YAML configuration file")

	if err := global.Parse(args); err != nil {
		return 1
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()

		return 1
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", rest[0])
		global.Usage()

		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)

		return 1
	}

	logger.Configure(cfg.Logging.Level, cfg.LogFormat())
	defer func() { _ = logger.Sync() }()

	logger.For(logger.ComponentConfig).Debugw("configuration loaded",
		"file", *configPath,
		"db", cfg.Catalog.Path,
		"timeout", cfg.Catalog.Timeout,
		"attempts", cfg.Catalog.Attempts)

	a := &app{
		cfg:    cfg,
		log:    logger.For(logger.ComponentCLI),
		stdout: stdout,
		stderr: stderr,
	}

	code := 0
	if err := cmd(ctx, a, rest[1:]); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
		case errors.Is(err, errUsage):
			_, _ = fmt.Fprintln(stderr, err)
		default:
			a.log.Errorw("command failed", "command", rest[0], "error", err)
		}
		code = 1
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			a.log.Warnw("failed to write metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}

	return code
}

// flags returns a flag set for a sub-command that reports to a.stderr.
func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	return fs
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

// splitList splits a comma separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

// parseAssignments turns tag=value arguments into a map and returns the tags
// in the order they first appear. Values may be empty; the last one wins.
func parseAssignments(args []string) (map[string]string, []string, error) {
	out := make(map[string]string, len(args))
	var keys []string
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("%w: expected tag=value, got %q", errUsage, arg)
		}
		if _, seen := out[key]; !seen {
			keys = append(keys, key)
		}
		out[key] = value
	}

	return out, keys, nil
}
