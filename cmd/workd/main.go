package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"workchain/config"
	"workchain/core"
	"workchain/crypto"
	"workchain/observability/logging"
	"workchain/rpc"
	"workchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memdb := flag.Bool("memdb", false, "Use an in-memory database instead of LevelDB")
	genesisAccount := flag.String("genesis-account", "", "DEV ONLY: bech32 address credited at startup")
	genesisBalance := flag.String("genesis-balance", "", "DEV ONLY: base-unit balance for -genesis-account")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("workd", cfg.NetworkName)

	var db storage.Database
	if *memdb {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("Failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		db = leveldb
	}
	defer db.Close()

	ledger := core.NewLedger(db)

	if arbiter := strings.TrimSpace(cfg.ArbiterAddress); arbiter != "" {
		addr, err := crypto.DecodeAddress(arbiter)
		if err != nil {
			logger.Error("Invalid arbiter address", slog.Any("error", err))
			os.Exit(1)
		}
		ledger.SetArbiter(addr)
		logger.Info("Dispute resolution enabled", slog.String("arbiter", addr.String()))
	}

	if err := creditGenesis(ledger, *genesisAccount, *genesisBalance); err != nil {
		logger.Error("Failed to credit genesis account", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(ledger)
	logger.Info("JSON-RPC listening", slog.String("address", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func creditGenesis(ledger *core.Ledger, account, balance string) error {
	account = strings.TrimSpace(account)
	balance = strings.TrimSpace(balance)
	if account == "" && balance == "" {
		return nil
	}
	if account == "" || balance == "" {
		return fmt.Errorf("-genesis-account and -genesis-balance must be set together")
	}
	addr, err := crypto.DecodeAddress(account)
	if err != nil {
		return fmt.Errorf("decode genesis account: %w", err)
	}
	amount, ok := new(big.Int).SetString(balance, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("genesis balance must be a positive base-unit integer")
	}
	return ledger.Credit(addr, amount)
}
