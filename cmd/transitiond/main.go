// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// transitiond runs a node that switches from proof-of-work to beacon driven
// block production once the chain reaches its terminal total difficulty.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/eth/downloader"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/dome-network/geth-transition/core"
	"github.com/dome-network/geth-transition/eth/builder"
	"github.com/dome-network/geth-transition/eth/ethconfig"
	"github.com/dome-network/geth-transition/params"
)

const (
	datadirNodeKey     = "nodekey"
	datadirChainData   = "chaindata"
	datadirLock        = "LOCK"
	shutdownTimeout    = 10 * time.Second
	databaseCache      = 64
	databaseHandles    = 64
	overrideTTDFlagKey = params.OverrideTerminalTotalDifficulty
)

var errDatadirUsed = errors.New("datadir already used by another process")

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML or YAML configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the databases and keystore, in-memory if empty",
	}
	networkIdFlag = &cli.Uint64Flag{
		Name:  "networkid",
		Usage: "Explicitly set network id",
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "Genesis JSON file",
	}
	overrideTTDFlag = &cli.StringFlag{
		Name:  "override.terminaltotaldifficulty",
		Usage: "Manually specify the terminal total difficulty, overriding the bundled setting",
	}
	syncModeFlag = &cli.StringFlag{
		Name:  "syncmode",
		Usage: `Blockchain sync mode ("snap", "full" or "light")`,
	}
	stateSchemeFlag = &cli.StringFlag{
		Name:  "state.scheme",
		Usage: "Scheme to use for storing ethereum state ('hash' or 'path')",
	}
	noPruningFlag = &cli.BoolFlag{
		Name:  "nopruning",
		Usage: "Disable world state pruning",
	}
	dbEngineFlag = &cli.StringFlag{
		Name:  "db.engine",
		Usage: "Backing database implementation to use ('pebble' or 'leveldb')",
	}
	nodeKeyFileFlag = &cli.StringFlag{
		Name:  "nodekey",
		Usage: "P2P node key file",
	}
	mineFlag = &cli.BoolFlag{
		Name:  "mine",
		Usage: "Enable block production",
	}
	etherbaseFlag = &cli.StringFlag{
		Name:  "miner.etherbase",
		Usage: "Public address for block mining rewards",
	}
	extraDataFlag = &cli.StringFlag{
		Name:  "miner.extradata",
		Usage: "Block extra data set by the miner",
	}
	recommitFlag = &cli.DurationFlag{
		Name:  "miner.recommit",
		Usage: "Time interval to recreate the block being mined",
	}
	stopTimeoutFlag = &cli.DurationFlag{
		Name:  "miner.stoptimeout",
		Usage: "Maximum time to wait for the outgoing miner at the merge transition",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "Engine API HTTP-RPC server listening interface",
	}
	jwtSecretFlag = &cli.StringFlag{
		Name:  "authrpc.jwtsecret",
		Usage: "Path to a JWT secret to use for the authenticated engine API",
	}
	httpPortFlag = &cli.IntFlag{
		Name:  "http.port",
		Usage: "Engine API HTTP-RPC server listening port",
	}
	metricsFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable metrics collection and reporting",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Enable stand-alone metrics HTTP server listening interface",
	}
	metricsPortFlag = &cli.IntFlag{
		Name:  "metrics.port",
		Usage: "Metrics HTTP server listening port",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotated file instead of the terminal",
	}
	logMaxSizeFlag = &cli.IntFlag{
		Name:  "log.maxsize",
		Usage: "Maximum size in megabytes of the log file before it gets rotated",
	}
)

var nodeFlags = []cli.Flag{
	configFileFlag,
	dataDirFlag,
	networkIdFlag,
	genesisFlag,
	overrideTTDFlag,
	syncModeFlag,
	stateSchemeFlag,
	noPruningFlag,
	dbEngineFlag,
	nodeKeyFileFlag,
	mineFlag,
	etherbaseFlag,
	extraDataFlag,
	recommitFlag,
	stopTimeoutFlag,
	httpAddrFlag,
	httpPortFlag,
	jwtSecretFlag,
	metricsFlag,
	metricsAddrFlag,
	metricsPortFlag,
	verbosityFlag,
	logFileFlag,
	logMaxSizeFlag,
}

var dumpConfigCommand = &cli.Command{
	Action:    dumpConfig,
	Name:      "dumpconfig",
	Usage:     "Export configuration values in a TOML format",
	ArgsUsage: "<dumpfile (optional)>",
	Flags:     nodeFlags,
}

var app = &cli.App{
	Name:      "transitiond",
	Usage:     "the merge transition node",
	Copyright: "Copyright 2013-2024 The go-ethereum Authors",
	Flags:     nodeFlags,
	Action:    transitiond,
	Commands:  []*cli.Command{dumpConfigCommand},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// makeConfig layers defaults, the configuration file, the environment and
// command line flags, in that order.
func makeConfig(ctx *cli.Context) (transitiondConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := applyFlags(ctx, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(ctx *cli.Context, cfg *transitiondConfig) error {
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Eth.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(networkIdFlag.Name) {
		cfg.Eth.NetworkId = ctx.Uint64(networkIdFlag.Name)
	}
	if ctx.IsSet(genesisFlag.Name) {
		genesis, err := readGenesis(ctx.String(genesisFlag.Name))
		if err != nil {
			return err
		}
		cfg.Eth.Genesis = genesis
	}
	if ctx.IsSet(overrideTTDFlag.Name) {
		if cfg.Eth.GenesisOverrides == nil {
			cfg.Eth.GenesisOverrides = make(map[string]string)
		}
		cfg.Eth.GenesisOverrides[overrideTTDFlagKey] = ctx.String(overrideTTDFlag.Name)
	}
	if ctx.IsSet(syncModeFlag.Name) {
		var mode downloader.SyncMode
		if err := mode.UnmarshalText([]byte(ctx.String(syncModeFlag.Name))); err != nil {
			return err
		}
		cfg.Eth.SyncMode = mode
	}
	if ctx.IsSet(stateSchemeFlag.Name) {
		cfg.Eth.StateScheme = ctx.String(stateSchemeFlag.Name)
	}
	if ctx.IsSet(noPruningFlag.Name) {
		cfg.Eth.NoPruning = ctx.Bool(noPruningFlag.Name)
	}
	if ctx.IsSet(dbEngineFlag.Name) {
		cfg.Node.DBEngine = ctx.String(dbEngineFlag.Name)
	}
	if ctx.IsSet(nodeKeyFileFlag.Name) {
		cfg.Node.NodeKeyFile = ctx.String(nodeKeyFileFlag.Name)
	}
	if ctx.IsSet(mineFlag.Name) {
		cfg.Eth.Miner.Enabled = ctx.Bool(mineFlag.Name)
	}
	if ctx.IsSet(etherbaseFlag.Name) {
		addr := ctx.String(etherbaseFlag.Name)
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid miner etherbase %q", addr)
		}
		cfg.Eth.Miner.Etherbase = common.HexToAddress(addr)
	}
	if ctx.IsSet(extraDataFlag.Name) {
		cfg.Eth.Miner.ExtraData = []byte(ctx.String(extraDataFlag.Name))
	}
	if ctx.IsSet(recommitFlag.Name) {
		cfg.Eth.Miner.Recommit = ctx.Duration(recommitFlag.Name)
	}
	if ctx.IsSet(stopTimeoutFlag.Name) {
		cfg.Eth.StopTimeout = ctx.Duration(stopTimeoutFlag.Name)
	}
	if ctx.IsSet(httpAddrFlag.Name) {
		cfg.Node.HTTPHost = ctx.String(httpAddrFlag.Name)
	}
	if ctx.IsSet(httpPortFlag.Name) {
		cfg.Node.HTTPPort = ctx.Int(httpPortFlag.Name)
	}
	if ctx.IsSet(jwtSecretFlag.Name) {
		cfg.Node.JWTSecret = ctx.String(jwtSecretFlag.Name)
	}
	if ctx.IsSet(metricsFlag.Name) {
		cfg.Metrics.Enabled = ctx.Bool(metricsFlag.Name)
	}
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.Metrics.HTTP = ctx.String(metricsAddrFlag.Name)
	}
	if ctx.IsSet(metricsPortFlag.Name) {
		cfg.Metrics.Port = ctx.Int(metricsPortFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Log.File = ctx.String(logFileFlag.Name)
	}
	if ctx.IsSet(logMaxSizeFlag.Name) {
		cfg.Log.MaxSize = ctx.Int(logMaxSizeFlag.Name)
	}
	return nil
}

func readGenesis(file string) (*gethcore.Genesis, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}
	defer f.Close()

	genesis := new(gethcore.Genesis)
	if err := json.NewDecoder(f).Decode(genesis); err != nil {
		return nil, fmt.Errorf("invalid genesis file: %w", err)
	}
	return genesis, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	comment := ""
	if cfg.Eth.Genesis != nil {
		cfg.Eth.Genesis = nil
		comment += "# Note: this config doesn't contain the genesis block.\n\n"
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.WriteString(comment)
	dump.Write(out)
	return nil
}

// transitiond is the main entry point: it assembles the node, serves the
// engine API and blocks until interrupted.
func transitiond(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	logCloser := setupLogging(cfg.Log)
	defer logCloser.Close()

	lock, err := openDataDir(cfg.Eth.DataDir)
	if err != nil {
		return err
	}
	if lock != nil {
		defer lock.Unlock()
	}
	key, err := loadNodeKey(cfg.Node.NodeKeyFile, cfg.Eth.DataDir)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg.Eth.DataDir, cfg.Node.DBEngine)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Eth.Genesis == nil {
		return errors.New("no genesis given, use --genesis or the Eth.Genesis config section")
	}
	if err := initGenesis(db, cfg.Eth.Genesis); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if !metrics.Enabled {
			log.Warn("Metrics were enabled after startup, pass --metrics to collect them")
		}
		cfg.Eth.Metrics = metrics.DefaultRegistry
	}
	mirror, err := builder.NewMirror(builder.NewPoWBuilder(), builder.NewBeaconBuilder())
	if err != nil {
		return err
	}
	configureMirror(mirror, &cfg.Eth, key, db)

	node, err := mirror.Build()
	if err != nil {
		return fmt.Errorf("failed to build node: %w", err)
	}
	node.Start()
	defer node.Close()

	secret, err := obtainJWTSecret(cfg.Node.JWTSecret, cfg.Eth.DataDir)
	if err != nil {
		return err
	}
	rpcServer := rpc.NewServer()
	defer rpcServer.Stop()
	for _, api := range node.APIs() {
		if err := rpcServer.RegisterName(api.Namespace, api.Service); err != nil {
			return err
		}
	}
	servers := []*http.Server{
		serveHTTP("engine API", net.JoinHostPort(cfg.Node.HTTPHost, strconv.Itoa(cfg.Node.HTTPPort)), newJWTHandler(secret, rpcServer)),
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/debug/metrics/prometheus", prometheus.Handler(metrics.DefaultRegistry))
		servers = append(servers, serveHTTP("metrics", net.JoinHostPort(cfg.Metrics.HTTP, strconv.Itoa(cfg.Metrics.Port)), mux))
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	log.Info("Got interrupt, shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown failed", "addr", srv.Addr, "err", err)
		}
	}
	return node.Close()
}

// configureMirror hands every node option to mirror, and through it to both
// consensus regimes.
func configureMirror(mirror *builder.Mirror, eth *ethconfig.Config, key *ecdsa.PrivateKey, db ethdb.Database) *builder.Mirror {
	return mirror.
		NetworkID(eth.NetworkId).
		Genesis(eth.Genesis).
		GenesisOverrides(eth.GenesisOverrides).
		DataDir(eth.DataDir).
		NodeKey(key).
		Metrics(eth.Metrics).
		Pruning(!eth.NoPruning).
		PrunerConfig(eth.Pruner).
		TxPool(eth.TxPool).
		Synchronizer(eth.SyncMode).
		RequiredBlocks(eth.RequiredBlocks).
		ReorgLoggingThreshold(eth.ReorgLoggingThreshold).
		StateScheme(eth.StateScheme).
		MessagePermissioning(eth.MessagePermissioning).
		RevertReason(eth.RevertReason).
		Mining(eth.Miner).
		SyncTolerance(eth.SyncTolerance).
		StopTimeout(eth.StopTimeout).
		Clock(eth.Clock).
		Database(db)
}

func serveHTTP(name, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server started", "name", name, "endpoint", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "name", name, "err", err)
		}
	}()
	return srv
}

// openDataDir creates the data directory and locks it against concurrent use.
func openDataDir(dir string) (*flock.Flock, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, datadirLock))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, errDatadirUsed
	}
	return lock, nil
}

// loadNodeKey loads the node key from file, from the data directory or
// generates an ephemeral one, in that order.
func loadNodeKey(file, datadir string) (*ecdsa.PrivateKey, error) {
	if file != "" {
		key, err := crypto.LoadECDSA(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load node key: %w", err)
		}
		return key, nil
	}
	if datadir == "" {
		return crypto.GenerateKey()
	}
	keyfile := filepath.Join(datadir, datadirNodeKey)
	if key, err := crypto.LoadECDSA(keyfile); err == nil {
		return key, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate node key: %w", err)
	}
	if err := crypto.SaveECDSA(keyfile, key); err != nil {
		log.Error("Failed to persist node key", "err", err)
	}
	return key, nil
}

func openDatabase(datadir, engine string) (ethdb.Database, error) {
	if datadir == "" {
		return rawdb.NewMemoryDatabase(), nil
	}
	return rawdb.Open(rawdb.OpenOptions{
		Type:      engine,
		Directory: filepath.Join(datadir, datadirChainData),
		Namespace: "transitiond/db/chaindata/",
		Cache:     databaseCache,
		Handles:   databaseHandles,
	})
}

// initGenesis writes the genesis header into an empty database.
func initGenesis(db ethdb.Database, genesis *gethcore.Genesis) error {
	chain := core.NewChainState(db)
	defer chain.Close()

	if head := chain.HeadHeader(); head != nil {
		log.Info("Using existing chain", "number", head.Number, "hash", head.Hash())
		return nil
	}
	block := genesis.ToBlock()
	if err := chain.WriteHeader(block.Header(), block.Difficulty()); err != nil {
		return err
	}
	log.Info("Wrote genesis header", "hash", block.Hash(), "difficulty", block.Difficulty())
	return chain.SetHead(block.Hash())
}
