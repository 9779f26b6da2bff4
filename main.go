package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"opsign-relay/chain"
	"opsign-relay/config"
	"opsign-relay/database"
	"opsign-relay/deposit"
	"opsign-relay/ledger"
	"opsign-relay/logger"
	"opsign-relay/permissions"
	"opsign-relay/relay"
	"opsign-relay/syncer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.BuildConfig()
	if err != nil {
		fmt.Println("Config error: ", err)
		os.Exit(1)
	}
	config.GlobalConfigCallback.Call(cfg)
	logger.Info("Running with configuration: chain: %s, database: %s", cfg.Chain.NodeURL, cfg.DB.Database)

	db, err := database.ConnectAndInitialize(&cfg.DB)
	if err != nil {
		fmt.Println("Database connect and initialize error: ", err)
		os.Exit(1)
	}

	client, err := chain.DialRPCNode(cfg.Chain.NodeURL)
	if err != nil {
		fmt.Println("Chain dial error: ", err)
		os.Exit(1)
	}

	signer, err := relay.NewSigner(cfg.Relay, client)
	if err != nil {
		fmt.Println("Signer init error: ", err)
		os.Exit(1)
	}

	credits := ledger.New(db)
	owners := permissions.NewIndexerOwnerResolver(cfg.Chain.IndexerURL)
	index, err := permissions.NewIndex(db, permissions.DecodeBitmap, signer.Address(), credits, owners)
	if err != nil {
		fmt.Println("Permission index init error: ", err)
		os.Exit(1)
	}

	engine := syncer.NewEngine(db, client, cfg.Sync)
	indexerClient := deposit.NewIndexerClient(cfg.Deposit.IndexerURL)
	watcher := deposit.NewWatcher(cfg.Deposit, db, credits, client, indexerClient, signer.Address())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx, syncer.Stream{
			Name:    "GrantOperatorPermissions",
			Address: common.HexToAddress(cfg.Chain.ContractAddress),
			Topic:   permissions.GrantEventTopic,
			Handler: index.Handler(),
		})
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Run error: %s", err)
	}

	logger.Info("Shutting down")
	logger.SyncFileLogger()
}
