// Command dagchaind is the process entrypoint for one dagchain node. Flag
// parsing, config-file loading, and a Prometheus exposer are explicitly out
// of scope (spec §1); this main is thin by design, filling in
// config.DefaultConfig() and waiting on an OS signal to shut down, the same
// division daglabs-btcd draws between its cmd-level main and kaspad.go's
// newKaspad/start/stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dagchain/dagchain/config"
	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/logs"
	"github.com/dagchain/dagchain/node"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultConfig()

	logger.InitLogRotators(cfg.LogFile, cfg.ErrLogFile)
	logger.SetLogLevels(logs.ParseLevel(cfg.LogLevel))

	stateAPI, genesis, err := bootstrap(cfg)
	if err != nil {
		return err
	}

	n, err := node.New(cfg, stateAPI, genesis)
	if err != nil {
		return err
	}
	n.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	return n.Stop()
}

// bootstrap constructs the genesis DAG block and the state backend this
// process runs against. A real deployment plugs in an EVM-backed state.API
// here instead of devState; constructing one is out of scope for this repo
// (spec §1 "opaque StateAPI").
func bootstrap(cfg config.Config) (state.API, *types.DagBlock, error) {
	genesisKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	genesis := &types.DagBlock{Level: 0}
	if err := genesis.Sign(genesisKey); err != nil {
		return nil, nil, err
	}

	validatorKey := genesisKey
	if len(cfg.ValidatorKey) > 0 {
		validatorKey, err = crypto.PrivateKeyFromBytes(cfg.ValidatorKey)
		if err != nil {
			return nil, nil, err
		}
	}
	return newDevState(validatorKey.VRFPublicKey()), genesis, nil
}
