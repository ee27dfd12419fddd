package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"srpchain/config"
	"srpchain/core"
	"srpchain/crypto"
	"srpchain/observability/logging"
	"srpchain/rpc"
	"srpchain/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SRP_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("srpd", env, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db, logger)

	owner, err := cfg.Owner()
	if err != nil {
		logger.Error("Failed to resolve owner address", slog.Any("error", err))
		os.Exit(1)
	}
	if path := strings.TrimSpace(cfg.OwnerKeystore); path != "" {
		ownerKey, err := crypto.LoadFromKeystore(path, os.Getenv("SRP_OWNER_PASS"))
		if err != nil {
			logger.Error("Failed to load owner keystore", slog.Any("error", err))
			os.Exit(1)
		}
		owner = ownerKey.PubKey().Address().Fixed()
	}
	node.SetOwner(owner)

	minStake, err := cfg.StorageStake()
	if err != nil {
		logger.Error("Failed to parse storage stake", slog.Any("error", err))
		os.Exit(1)
	}
	node.SetStorageQuota(minStake)

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := server.ListenAndServe(); err != nil {
				logger.Error("Metrics endpoint stopped", slog.Any("error", err))
			}
		}()
		logger.Info("Metrics endpoint listening", slog.String("address", addr))
	}

	logger.Info("Node started",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("data_dir", cfg.DataDir))

	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
