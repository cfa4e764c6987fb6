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

package catalog_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/metacatalog/pkg/catalog"
	"github.com/united-manufacturing-hub/metacatalog/pkg/metrics"
)

func numberedRecords(prefix string, n int) ([]string, map[string]catalog.Tags) {
	names := make([]string, 0, n)
	records := make(map[string]catalog.Tags, n)
	for i := range n {
		name := fmt.Sprintf("%s_%04d.png", prefix, i)
		names = append(names, name)
		records[name] = catalog.Tags{"model": prefix, "index": fmt.Sprint(i)}
	}

	return names, records
}

var _ = Describe("Delete", func() {
	var (
		ctx     context.Context
		c       *catalog.Catalog
		names   []string
		records map[string]catalog.Tags
	)

	BeforeEach(func() {
		ctx = context.Background()
		c = tempCatalog("delete.db")
		names, records = numberedRecords("img", 600)
		writeAll(ctx, c, records, names...)
	})

	It("should delete every name across chunk boundaries", func() {
		before := testutil.ToFloat64(metrics.RecordsDeletedCount())

		err := c.Delete(ctx, names[:500], catalog.DeleteOptions{ChunkSize: 200})
		Expect(err).NotTo(HaveOccurred())

		left, _, err := c.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(left).To(Equal(names[500:]))
		Expect(testutil.ToFloat64(metrics.RecordsDeletedCount()) - before).To(Equal(500.0))
	})

	It("should delete in one yielding transaction when retries are off", func() {
		err := c.Delete(ctx, names[:250], catalog.DeleteOptions{NoVacuum: true, NoRetries: true})
		Expect(err).NotTo(HaveOccurred())

		left, _, err := c.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(left).To(HaveLen(350))
		Expect(left[0]).To(Equal(names[250]))
	})

	It("should release the file lock while it pauses between batches", func() {
		cfg := testConfig()
		cfg.YieldInterval = 2 * time.Second
		deleter := catalog.New(c.Path(), cfg, nil)

		writerCfg := testConfig()
		writerCfg.Attempts = 1
		writer := catalog.New(c.Path(), writerCfg, nil)

		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- deleter.Delete(ctx, names[:250], catalog.DeleteOptions{NoVacuum: true, NoRetries: true})
		}()

		Eventually(func() error {
			return writer.Write(ctx, "during.png", catalog.Tags{"model": "other", "index": "x"}, catalog.WriteOptions{})
		}).WithTimeout(1500 * time.Millisecond).WithPolling(20 * time.Millisecond).Should(Succeed())
		Consistently(done).WithTimeout(100 * time.Millisecond).ShouldNot(Receive())

		var err error
		Eventually(done).WithTimeout(10 * time.Second).Should(Receive(&err))
		Expect(err).NotTo(HaveOccurred())

		left, records, err := c.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(left).To(HaveLen(351))
		Expect(records).To(HaveKey("during.png"))
	})

	It("should skip names that are not present and warn when asked", func() {
		core, logs := observer.New(zapcore.WarnLevel)
		c = catalog.New(c.Path(), testConfig(), zap.New(core).Sugar())

		err := c.Delete(ctx, []string{names[0], "missing.png"}, catalog.DeleteOptions{NoVacuum: true, Warn: true})
		Expect(err).NotTo(HaveOccurred())

		warned := logs.FilterMessage("record not in catalog, nothing to delete").All()
		Expect(warned).To(HaveLen(1))
		Expect(warned[0].ContextMap()).To(HaveKeyWithValue("name", "missing.png"))

		left, _, err := c.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(left).To(HaveLen(599))
	})

	It("should treat a missing file or table as nothing to delete", func() {
		absent := tempCatalog("absent.db")
		Expect(absent.Delete(ctx, names, catalog.DefaultDeleteOptions())).To(Succeed())
		Expect(absent.Exists()).To(BeFalse())

		empty := tempCatalog("empty.db")
		rawExec(empty.Path(), "CREATE TABLE other(x TEXT)")
		Expect(empty.Delete(ctx, names, catalog.DefaultDeleteOptions())).To(Succeed())
	})

	It("should vacuum with zero options", func() {
		before, err := os.Stat(c.Path())
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Delete(ctx, names, catalog.DeleteOptions{})).To(Succeed())
		after, err := os.Stat(c.Path())
		Expect(err).NotTo(HaveOccurred())
		Expect(after.Size()).To(BeNumerically("<", before.Size()))
	})

	It("should compact the file after deleting", func() {
		Expect(c.Delete(ctx, names, catalog.DeleteOptions{NoVacuum: true})).To(Succeed())
		before, err := os.Stat(c.Path())
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Vacuum(ctx)).To(Succeed())
		after, err := os.Stat(c.Path())
		Expect(err).NotTo(HaveOccurred())
		Expect(after.Size()).To(BeNumerically("<", before.Size()))
	})
})

var _ = Describe("Merge", func() {
	var (
		ctx  context.Context
		dest *catalog.Catalog
		add  *catalog.Catalog
	)

	BeforeEach(func() {
		ctx = context.Background()
		dest = tempCatalog("main.db")
		add = tempCatalog("add.db")

		writeAll(ctx, dest, map[string]catalog.Tags{
			"r1.png": {"model": "main"},
			"r3.png": {"model": "main"},
		}, "r1.png", "r3.png")
		writeAll(ctx, add, map[string]catalog.Tags{
			"r1.png": {"model": "add"},
			"r2.png": {"model": "add"},
		}, "r1.png", "r2.png")
	})

	It("should take the source record on conflict when replacing", func() {
		n, err := dest.Merge(ctx, add.Path(), catalog.MergeOptions{Replace: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		names, records, err := dest.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(ConsistOf("r1.png", "r2.png", "r3.png"))
		Expect(records["r1.png"]["model"]).To(Equal("add"))
		Expect(records["r2.png"]["model"]).To(Equal("add"))
		Expect(records["r3.png"]["model"]).To(Equal("main"))

		Expect(add.Exists()).To(BeTrue())
	})

	It("should keep the destination record on conflict otherwise", func() {
		_, err := dest.Merge(ctx, add.Path(), catalog.MergeOptions{})
		Expect(err).NotTo(HaveOccurred())

		_, records, err := dest.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(3))
		Expect(records["r1.png"]["model"]).To(Equal("main"))
	})

	It("should delete the source file", func() {
		_, err := dest.Merge(ctx, add.Path(), catalog.MergeOptions{DeleteSource: true, DeleteMergedEntries: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(add.Exists()).To(BeFalse())
	})

	It("should remove only the merged records from the source", func() {
		Expect(dest.Merge(ctx, add.Path(), catalog.MergeOptions{DeleteMergedEntries: true})).To(Equal(2))

		Expect(add.Exists()).To(BeTrue())
		names, records, err := add.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(BeNil())
		Expect(records).To(BeNil())
	})

	It("should grow the destination schema for new source tags", func() {
		Expect(add.Write(ctx, "r4.png", catalog.Tags{"model": "add", "run": "x"}, catalog.WriteOptions{})).To(Succeed())

		_, err := dest.Merge(ctx, add.Path(), catalog.MergeOptions{})
		Expect(err).NotTo(HaveOccurred())

		_, records, err := dest.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records["r4.png"]).To(Equal(catalog.Tags{"model": "add", "run": "x"}))
		Expect(records["r3.png"]["run"]).To(Equal(catalog.Placeholder))
	})

	It("should fail without touching the destination when strict and the tags differ", func() {
		Expect(add.Write(ctx, "r4.png", catalog.Tags{"model": "add", "run": "x"}, catalog.WriteOptions{})).To(Succeed())

		_, err := dest.Merge(ctx, add.Path(), catalog.MergeOptions{Strict: true, DeleteSource: true})
		Expect(errors.Is(err, catalog.ErrValidation)).To(BeTrue())

		names, _, err := dest.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(ConsistOf("r1.png", "r3.png"))
		Expect(add.Exists()).To(BeTrue())
	})

	It("should merge nothing from a missing source", func() {
		n, err := dest.Merge(ctx, add.Path()+".missing", catalog.MergeOptions{DeleteSource: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})

var _ = Describe("Lock contention", func() {
	var (
		ctx context.Context
		c   *catalog.Catalog
	)

	BeforeEach(func() {
		ctx = context.Background()
		c = tempCatalog("locked.db")
		Expect(c.Write(ctx, "a.png", catalog.Tags{"model": "m1"}, catalog.WriteOptions{})).To(Succeed())
	})

	holdWriteLock := func() *sql.Tx {
		db, err := sql.Open("sqlite3", c.Path()+"?_txlock=immediate")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = db.Close() })

		tx, err := db.BeginTx(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = tx.Rollback() })

		return tx
	}

	It("should give up after the configured attempts", func() {
		holdWriteLock()
		before := testutil.ToFloat64(metrics.LockRetryCount(metrics.OpWrite))

		err := c.Write(ctx, "b.png", catalog.Tags{"model": "m2"}, catalog.WriteOptions{})
		Expect(errors.Is(err, catalog.ErrRetriesExhausted)).To(BeTrue())

		var re *catalog.RetriesExhaustedError
		Expect(errors.As(err, &re)).To(BeTrue())
		Expect(re.Attempts).To(Equal(3))
		Expect(re.Path).To(Equal(c.Path()))
		Expect(re.Err).To(HaveOccurred())

		Expect(testutil.ToFloat64(metrics.LockRetryCount(metrics.OpWrite)) - before).To(Equal(2.0))
	})

	It("should succeed once the lock is released during the retries", func() {
		tx := holdWriteLock()

		cfg := testConfig()
		cfg.Attempts = 10
		patient := catalog.New(c.Path(), cfg, nil)

		go func() {
			defer GinkgoRecover()
			time.Sleep(300 * time.Millisecond)
			Expect(tx.Rollback()).To(Succeed())
		}()

		Expect(patient.Write(ctx, "b.png", catalog.Tags{"model": "m2"}, catalog.WriteOptions{})).To(Succeed())
	})

	It("should still serve readers while a writer waits to commit", func() {
		holdWriteLock()

		names, _, err := c.Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"a.png"}))
	})

	It("should not lose records written by concurrent writers", func() {
		path := tempCatalog("concurrent.db").Path()
		cfg := catalog.DefaultConfig()
		cfg.RaceDelay = 10 * time.Millisecond

		g, gctx := errgroup.WithContext(ctx)
		for w := range 4 {
			g.Go(func() error {
				writer := catalog.New(path, cfg, nil)
				for i := range 25 {
					name := fmt.Sprintf("w%d_%02d.png", w, i)
					if err := writer.Write(gctx, name, catalog.Tags{"writer": fmt.Sprint(w)}, catalog.WriteOptions{}); err != nil {
						return err
					}
				}

				return nil
			})
		}
		Expect(g.Wait()).To(Succeed())

		names, records, err := catalog.New(path, cfg, nil).Read(ctx, catalog.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(HaveLen(100))
		Expect(records["w3_24.png"]).To(Equal(catalog.Tags{"writer": "3"}))
	})
})
