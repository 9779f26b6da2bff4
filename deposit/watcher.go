// Package deposit polls the chain-indexing API for native-token transfers to
// the operator wallet and credits each sender's prepaid balance.
package deposit

import (
	"context"
	"math/big"
	"strings"
	"time"

	"opsign-relay/boff"
	"opsign-relay/chain"
	"opsign-relay/config"
	"opsign-relay/database"
	"opsign-relay/ledger"
	"opsign-relay/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// StreamName keys the watcher's breakpoint in the checkpoint table.
const StreamName = "CsbTransferToOpSigner"

type Watcher struct {
	db             *gorm.DB
	credits        *ledger.Ledger
	client         chain.Client
	indexer        *IndexerClient
	operator       common.Address
	pageLimit      int
	pollInterval   time.Duration
	receiptRetries uint
}

func NewWatcher(cfg config.DepositConfig, db *gorm.DB, credits *ledger.Ledger, client chain.Client, indexer *IndexerClient, operator common.Address) *Watcher {
	return &Watcher{
		db:             db,
		credits:        credits,
		client:         client,
		indexer:        indexer,
		operator:       operator,
		pageLimit:      cfg.PageLimit,
		pollInterval:   time.Duration(cfg.PollIntervalMillis) * time.Millisecond,
		receiptRetries: cfg.ReceiptRetries,
	}
}

// Run polls until ctx is cancelled. A failed page leaves the breakpoint in
// place and is re-fetched on the next iteration; per-transfer crediting is
// idempotent, so re-delivery is safe.
func (w *Watcher) Run(ctx context.Context) error {
	logger.Info("Watching transfers to the operator wallet %s", w.operator.Hex())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.processNextPage(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Deposit page failed, will re-fetch: %s", err)
			select {
			case <-time.After(w.pollInterval):
			case <-ctx.Done():
			}
		}
	}
}

func (w *Watcher) processNextPage(ctx context.Context) error {
	breakpoint, err := w.breakpoint()
	if err != nil {
		return err
	}

	page, err := boff.RetryWithMaxElapsed(
		ctx,
		func() ([]Transfer, error) {
			return w.indexer.Transactions(ctx, w.operator.Hex(), breakpoint.BlockNumber, breakpoint.CursorToken, w.pageLimit)
		},
		"indexer page",
	)
	if err != nil {
		return err
	}

	if len(page) == 0 {
		select {
		case <-time.After(w.pollInterval):
		case <-ctx.Done():
		}
		return nil
	}

	logger.Info(
		"Got %d transfer(s) from the indexer (block %d, cursor %q)",
		len(page), breakpoint.BlockNumber, breakpoint.CursorToken,
	)

	for i := range page {
		if err := w.handleTransfer(ctx, &page[i]); err != nil {
			return err
		}
	}

	last := &page[len(page)-1]
	lastBlock, err := last.blockNumber()
	if err != nil {
		return err
	}

	breakpoint.Advance(lastBlock)
	breakpoint.CursorToken = last.Hash

	return errors.Wrap(database.UpdateCheckpoint(w.db, breakpoint), "update breakpoint")
}

// handleTransfer credits the sender once the source transaction is confirmed
// successful. The deposit record and the credit commit in one transaction;
// transfers already recorded under their hash are skipped, so a partially
// processed page can be replayed without double-crediting or losing a credit.
func (w *Watcher) handleTransfer(ctx context.Context, transfer *Transfer) error {
	if !strings.EqualFold(transfer.To, w.operator.Hex()) || transfer.From == "" {
		return nil
	}

	receipt, err := boff.RetryN(
		ctx,
		func() (*types.Receipt, error) {
			return w.client.TransactionReceipt(ctx, common.HexToHash(transfer.Hash))
		},
		"deposit receipt",
		w.receiptRetries,
	)
	if err != nil {
		return errors.Wrapf(err, "receipt for transfer %s", transfer.Hash)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Debug("Skipping failed transfer %s", transfer.Hash)
		return nil
	}

	seen, err := database.DepositRecordExists(w.db, transfer.Hash)
	if err != nil {
		return errors.Wrapf(err, "deposit record lookup for %s", transfer.Hash)
	}
	if seen {
		logger.Debug("Transfer %s already credited", transfer.Hash)
		return nil
	}

	amount, ok := new(big.Int).SetString(transfer.Value, 10)
	if !ok {
		logger.Warn("Skipping transfer %s with malformed value %q", transfer.Hash, transfer.Value)
		return nil
	}

	blockNumber, err := transfer.blockNumber()
	if err != nil {
		return err
	}

	record := &database.DepositRecord{
		TxHash:      transfer.Hash,
		Sender:      strings.ToLower(transfer.From),
		Amount:      amount.String(),
		BlockNumber: blockNumber,
		CreatedAt:   time.Now(),
	}
	err = w.db.Transaction(func(tx *gorm.DB) error {
		if err := database.CreateDepositRecord(tx, record); err != nil {
			return errors.Wrapf(err, "record transfer %s", transfer.Hash)
		}
		return w.credits.CreditTx(tx, record.Sender, amount)
	})
	if err != nil {
		return err
	}

	logger.Info("Credited %s with %s from transfer %s", record.Sender, amount, transfer.Hash)

	return nil
}

func (w *Watcher) breakpoint() (*database.EventCheckpoint, error) {
	breakpoint, err := database.FetchCheckpoint(w.db, StreamName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		breakpoint = &database.EventCheckpoint{StreamName: StreamName}
		breakpoint.Advance(1)
		if err := database.CreateCheckpoint(w.db, breakpoint); err != nil {
			return nil, errors.Wrap(err, "create breakpoint")
		}
		return breakpoint, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "fetch breakpoint")
	}

	return breakpoint, nil
}
