package syncer

import (
	"context"

	"opsign-relay/chain"
	"opsign-relay/config"
	"opsign-relay/database"
	"opsign-relay/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Handler receives one batch of logs in (blockNumber, logIndex) order.
// Handlers must be idempotent: after a crash the last batch is re-delivered
// because the checkpoint is only advanced after the handler succeeds.
type Handler func(ctx context.Context, logs []types.Log) error

// Stream is one named, independently checkpointed on-chain log stream.
type Stream struct {
	Name    string
	Address common.Address
	Topic   common.Hash
	Handler Handler
}

// Engine replays a stream's history from its checkpoint in bounded windows,
// then follows new logs through a live subscription.
type Engine struct {
	db     *gorm.DB
	client chain.Client
	window uint64
}

func NewEngine(db *gorm.DB, client chain.Client, cfg config.SyncConfig) *Engine {
	window := cfg.WindowSize
	if window == 0 {
		window = 1
	}

	return &Engine{db: db, client: client, window: window}
}

// Run blocks until ctx is cancelled or an error occurs. RPC and handler
// errors are returned to the caller without internal retries; the stream
// resumes from its last persisted checkpoint on restart.
func (e *Engine) Run(ctx context.Context, stream Stream) error {
	cp, err := database.FetchCheckpoint(e.db, stream.Name)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// A new stream begins at the current head, no backfill.
		head, err := e.client.BlockNumber(ctx)
		if err != nil {
			return errors.Wrap(err, "client.BlockNumber")
		}

		cp = &database.EventCheckpoint{StreamName: stream.Name}
		cp.Advance(head)
		if err := database.CreateCheckpoint(e.db, cp); err != nil {
			return errors.Wrap(err, "database.CreateCheckpoint")
		}

		logger.Debug("No existing checkpoint for [%s], created a new one at block %d", stream.Name, head)
	case err != nil:
		return errors.Wrap(err, "database.FetchCheckpoint")
	default:
		if err := e.catchUp(ctx, stream, cp); err != nil {
			return err
		}
	}

	return e.watch(ctx, stream, cp)
}

func (e *Engine) catchUp(ctx context.Context, stream Stream, cp *database.EventCheckpoint) error {
	logger.Debug("Start retrieving logs for [%s] from block %d", stream.Name, cp.BlockNumber)

	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "client.BlockNumber")
	}

	for cp.BlockNumber < head {
		from := cp.BlockNumber + 1
		to := min(from+e.window-1, head)

		logs, err := e.client.FilterLogs(ctx, chain.FilterQueryFor(stream.Address, stream.Topic, from, to))
		if err != nil {
			return errors.Wrap(err, "client.FilterLogs")
		}

		if len(logs) > 0 {
			logger.Debug("Found %d log(s) for [%s] in blocks %d to %d", len(logs), stream.Name, from, to)

			SortLogs(logs)
			if err := stream.Handler(ctx, logs); err != nil {
				return errors.Wrapf(err, "handler for stream %s", stream.Name)
			}
		}

		cp.Advance(to)
		if err := database.UpdateCheckpoint(e.db, cp); err != nil {
			return errors.Wrap(err, "database.UpdateCheckpoint")
		}

		// Re-sample the head so blocks produced during the window are not
		// missed before switching to the live subscription.
		head, err = e.client.BlockNumber(ctx)
		if err != nil {
			return errors.Wrap(err, "client.BlockNumber")
		}
	}

	logger.Debug("Finished retrieving logs for [%s] at block %d", stream.Name, cp.BlockNumber)

	return nil
}

func (e *Engine) watch(ctx context.Context, stream Stream, cp *database.EventCheckpoint) error {
	logger.Debug("Start watching the [%s] stream", stream.Name)

	query := ethereum.FilterQuery{
		Addresses: []common.Address{stream.Address},
		Topics:    [][]common.Hash{{stream.Topic}},
	}

	ch := make(chan types.Log, 128)
	sub, err := e.client.WatchLogs(ctx, query, ch)
	if err != nil {
		return errors.Wrap(err, "client.WatchLogs")
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Stop watching the [%s] stream", stream.Name)
			return ctx.Err()

		case err := <-sub.Err():
			return errors.Wrapf(err, "subscription for stream %s", stream.Name)

		case log := <-ch:
			if err := stream.Handler(ctx, []types.Log{log}); err != nil {
				return errors.Wrapf(err, "handler for stream %s", stream.Name)
			}

			// Advance takes the max with the known checkpoint, so a log
			// delivered with a lower block number never regresses it.
			cp.Advance(log.BlockNumber)
			if err := database.UpdateCheckpoint(e.db, cp); err != nil {
				return errors.Wrap(err, "database.UpdateCheckpoint")
			}
		}
	}
}
