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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels.
const (
	OpRead    = "read"
	OpSelect  = "select"
	OpWrite   = "write"
	OpDelete  = "delete"
	OpVacuum  = "vacuum"
	OpMerge   = "merge"
	OpScan    = "scan"
	OpMigrate = "migrate"
)

// Result labels.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultExhausted = "exhausted"
)

var (
	namespace = "metacatalog"
	subsystem = "catalog"

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Total number of catalog operations by result",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_milliseconds",
			Help:      "Time taken by a catalog operation, including lock waits and retries (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"operation"},
	)

	lockRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_retries_total",
			Help:      "Attempts repeated because the catalog file was locked by another writer",
		},
		[]string{"operation"},
	)

	schemaMigrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "schema_migrations_total",
			Help:      "Table rewrites caused by previously unknown tag names",
		},
	)

	recordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_written_total",
			Help:      "Records inserted or replaced",
		},
	)

	recordsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_deleted_total",
			Help:      "Records removed",
		},
	)
)

// ObserveOperation records the outcome and duration of one top-level operation.
func ObserveOperation(operation, result string, d time.Duration) {
	operationsTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

// IncLockRetry counts one repeated attempt.
func IncLockRetry(operation string) {
	lockRetries.WithLabelValues(operation).Inc()
}

// IncSchemaMigration counts one table rewrite.
func IncSchemaMigration() {
	schemaMigrations.Inc()
}

// AddRecordsWritten counts n inserted or replaced records.
func AddRecordsWritten(n int) {
	recordsWritten.Add(float64(n))
}

// AddRecordsDeleted counts n removed records.
func AddRecordsDeleted(n int) {
	recordsDeleted.Add(float64(n))
}

// OperationCount returns the counter for an operation/result pair, for tests and diagnostics.
func OperationCount(operation, result string) prometheus.Counter {
	return operationsTotal.WithLabelValues(operation, result)
}

// LockRetryCount returns the retry counter for an operation.
func LockRetryCount(operation string) prometheus.Counter {
	return lockRetries.WithLabelValues(operation)
}

// SchemaMigrationCount returns the migration counter.
func SchemaMigrationCount() prometheus.Counter {
	return schemaMigrations
}

// RecordsWrittenCount returns the written-records counter.
func RecordsWrittenCount() prometheus.Counter {
	return recordsWritten
}

// RecordsDeletedCount returns the deleted-records counter.
func RecordsDeletedCount() prometheus.Counter {
	return recordsDeleted
}

// WriteTextfile dumps every registered metric to path in the Prometheus text
// format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
