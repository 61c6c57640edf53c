// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"flag"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	versionKey       = "version"
	httpHostKey      = "http-host"
	httpPortKey      = "http-port"
	concurrencyKey   = "concurrency"
	blockGasLimitKey = "block-gas-limit"
	logLevelKey      = "log-level"
)

// Config holds the runtime parameters of the execution server.
type Config struct {
	PrintVersion  bool
	HTTPHost      string
	HTTPPort      uint16
	Concurrency   int
	BlockGasLimit uint64
	LogLevel      string
}

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("blockstm", flag.ContinueOnError)

	fs.Bool(versionKey, false, "If true, prints version and quits")
	fs.String(httpHostKey, "127.0.0.1", "Host of the HTTP server")
	fs.Uint(httpPortKey, 9650, "Port of the HTTP server")
	fs.Int(concurrencyKey, 0, "Number of execution workers (0 = all CPUs)")
	fs.Uint64(blockGasLimitKey, 0, "Per-block gas limit (0 = unlimited)")
	fs.String(logLevelKey, "info", "Log level (debug, info, warn, error)")

	return fs
}

// getViper returns the viper environment of the server binary
func getViper() (*viper.Viper, error) {
	v := viper.New()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	return v, nil
}

func getConfig() (Config, error) {
	v, err := getViper()
	if err != nil {
		return Config{}, err
	}

	port := v.GetUint(httpPortKey)
	if port > 65535 {
		return Config{}, fmt.Errorf("invalid %s: %d", httpPortKey, port)
	}

	return Config{
		PrintVersion:  v.GetBool(versionKey),
		HTTPHost:      v.GetString(httpHostKey),
		HTTPPort:      uint16(port),
		Concurrency:   v.GetInt(concurrencyKey),
		BlockGasLimit: v.GetUint64(blockGasLimitKey),
		LogLevel:      v.GetString(logLevelKey),
	}, nil
}
