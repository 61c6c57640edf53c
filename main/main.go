// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/version"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockstm-go/blockstm/blockstm"
	"github.com/blockstm-go/blockstm/examples/kvstore"
	"github.com/blockstm-go/blockstm/service"
	"github.com/blockstm-go/blockstm/storage"
)

var appVersion = version.NewDefaultVersion(1, 0, 0)

func main() {
	config, err := getConfig()
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	if config.PrintVersion {
		fmt.Printf("%s@%s\n", blockstm.Name, appVersion)
		os.Exit(0)
	}

	if err := run(config); err != nil {
		fmt.Printf("server returned an error: %s\n", err)
		os.Exit(1)
	}
}

func run(config Config) error {
	logLevel, err := log.LvlFromString(config.LogLevel)
	if err != nil {
		return fmt.Errorf("couldn't parse log level: %w", err)
	}
	log.Root().SetHandler(log.LvlFilterHandler(logLevel, log.StreamHandler(os.Stderr, log.TerminalFormat())))
	logger := log.Root()

	state := storage.New(memdb.New())
	defer state.Close()

	registry := prometheus.NewRegistry()
	metrics := blockstm.NewMetrics(blockstm.Name)
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("couldn't register metrics: %w", err)
	}

	executor, err := blockstm.NewBlockExecutor(kvstore.Task{}, blockstm.Config{
		Concurrency:   config.Concurrency,
		BlockGasLimit: config.BlockGasLimit,
		Metrics:       metrics,
		Log:           logger,
	})
	if err != nil {
		return err
	}

	handler, err := service.NewHandler(service.New(executor, kvstore.Parser{}, state, logger))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", config.HTTPHost, config.HTTPPort)
	logger.Info("starting server", "addr", addr, "concurrency", config.Concurrency, "blockGasLimit", config.BlockGasLimit)
	return http.ListenAndServe(addr, mux)
}
