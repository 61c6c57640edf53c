// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

// load implements the load tests.
package load_test

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/database/memdb"
	log "github.com/inconshreveable/log15"
	ginkgo "github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/blockstm-go/blockstm/blockstm"
	"github.com/blockstm-go/blockstm/client"
	"github.com/blockstm-go/blockstm/examples/kvstore"
	"github.com/blockstm-go/blockstm/service"
	"github.com/blockstm-go/blockstm/storage"
)

func TestLoad(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "blockstm load test suites")
}

var (
	requestTimeout time.Duration

	blocks     int
	blockSize  int
	workers    int
	keySpace   int
	submitters int
	randomSeed int64
)

func init() {
	flag.DurationVar(
		&requestTimeout,
		"request-timeout",
		120*time.Second,
		"timeout for block issuance and confirmation",
	)

	flag.IntVar(
		&blocks,
		"blocks",
		20,
		"number of blocks to execute",
	)

	flag.IntVar(
		&blockSize,
		"block-size",
		256,
		"transactions per block",
	)

	flag.IntVar(
		&workers,
		"workers",
		8,
		"execution workers per block",
	)

	flag.IntVar(
		&keySpace,
		"key-space",
		16,
		"number of contended counter keys",
	)

	flag.IntVar(
		&submitters,
		"submitters",
		4,
		"concurrent block submitters",
	)

	flag.Int64Var(
		&randomSeed,
		"seed",
		1,
		"seed for workload generation",
	)
}

var (
	server *httptest.Server
	cli    client.Client
)

var _ = ginkgo.BeforeSuite(func() {
	executor, err := blockstm.NewBlockExecutor(kvstore.Task{}, blockstm.Config{Concurrency: workers})
	gomega.Expect(err).Should(gomega.BeNil())

	handler, err := service.NewHandler(service.New(executor, kvstore.Parser{}, storage.New(memdb.New()), log.Root()))
	gomega.Expect(err).Should(gomega.BeNil())

	server = httptest.NewServer(handler)
	cli = client.New(server.URL)
})

var _ = ginkgo.AfterSuite(func() {
	server.Close()
})

func counterKey(i int) string {
	return fmt.Sprintf("counter/%d", i)
}

// contendedBlock builds transactions incrementing random counters. The
// expected totals accumulate into [want].
func contendedBlock(rng *rand.Rand, want []uint64) [][]byte {
	txns := make([][]byte, blockSize)
	for i := range txns {
		var ops []kvstore.Op
		for n := rng.Intn(3) + 1; n > 0; n-- {
			key := rng.Intn(keySpace)
			delta := uint64(rng.Intn(9) + 1)
			ops = append(ops, kvstore.Op{Kind: kvstore.OpAdd, Key: counterKey(key), Delta: delta})
			want[key] += delta
		}
		txBytes, err := (&kvstore.Tx{Ops: ops}).Bytes()
		gomega.Expect(err).Should(gomega.BeNil())
		txns[i] = txBytes
	}
	return txns
}

func expectCounters(ctx context.Context, want []uint64) {
	for i, total := range want {
		val, found, err := cli.GetValue(ctx, []byte(counterKey(i)))
		gomega.Expect(err).Should(gomega.BeNil())
		if total == 0 {
			continue
		}
		gomega.Expect(found).Should(gomega.BeTrue())
		gomega.Expect(kvstore.CounterValue(val)).Should(gomega.Equal(total))
	}
}

var _ = ginkgo.Describe("[ExecuteBlock]", func() {
	ginkgo.It("executes contended blocks back to back", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		rng := rand.New(rand.NewSource(randomSeed))
		want := make([]uint64, keySpace)

		start := time.Now()
		var txnsExecuted int
		for b := 0; b < blocks; b++ {
			txns := contendedBlock(rng, want)
			_, committed, _, err := cli.ExecuteBlock(ctx, txns)
			gomega.Expect(err).Should(gomega.BeNil())
			gomega.Expect(committed).Should(gomega.Equal(uint64(len(txns))))
			txnsExecuted += len(txns)
		}
		log.Info("sequential submission done",
			"blocks", blocks,
			"txns", txnsExecuted,
			"tps", float64(txnsExecuted)/time.Since(start).Seconds(),
		)

		// Counter increments commute, so the stored totals match the
		// generated workload exactly.
		expectCounters(ctx, want)
	})

	ginkgo.It("executes blocks from concurrent submitters", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		rng := rand.New(rand.NewSource(randomSeed + 1))
		want := make([]uint64, keySpace)

		// Workload generation is sequential so the expected totals are
		// exact; only the submission races.
		workload := make([][][]byte, blocks)
		for b := range workload {
			workload[b] = contendedBlock(rng, want)
		}

		// Totals before this suite ran.
		base := make([]uint64, keySpace)
		for i := range base {
			val, _, err := cli.GetValue(ctx, []byte(counterKey(i)))
			gomega.Expect(err).Should(gomega.BeNil())
			base[i] = kvstore.CounterValue(val)
		}

		blockCh := make(chan [][]byte)
		eg, egCtx := errgroup.WithContext(ctx)
		for i := 0; i < submitters; i++ {
			eg.Go(func() error {
				for txns := range blockCh {
					_, committed, _, err := cli.ExecuteBlock(egCtx, txns)
					if err != nil {
						return err
					}
					if committed != uint64(len(txns)) {
						return fmt.Errorf("only %d of %d transactions committed", committed, len(txns))
					}
				}
				return nil
			})
		}
		for _, txns := range workload {
			blockCh <- txns
		}
		close(blockCh)
		gomega.Expect(eg.Wait()).Should(gomega.BeNil())

		for i := range want {
			want[i] += base[i]
		}
		expectCounters(ctx, want)
	})
})
