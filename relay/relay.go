// Package relay is the single synchronous choke point for every outgoing
// signed transaction: authorization check, balance check, nonce issuance,
// retry-wrapped submission, and post-submission billing.
package relay

import (
	"context"
	"math/big"
	"strings"
	"time"

	"opsign-relay/boff"
	"opsign-relay/chain"
	"opsign-relay/config"
	"opsign-relay/ledger"
	"opsign-relay/logger"
	"opsign-relay/permissions"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const receiptRetries = 5

type Relay struct {
	signer      *Signer
	index       *permissions.Index
	credits     *ledger.Ledger
	client      chain.Client
	settleDelay time.Duration
}

func New(cfg config.RelayConfig, signer *Signer, index *permissions.Index, credits *ledger.Ledger, client chain.Client) *Relay {
	return &Relay{
		signer:      signer,
		index:       index,
		credits:     credits,
		client:      client,
		settleDelay: time.Duration(cfg.SettleDelayMillis) * time.Millisecond,
	}
}

// Execute runs one contract write on behalf of caller. If characterID is
// non-nil the call is gated on that account having granted the shared
// operator permissions. Every failure is surfaced as a uniform *Error
// carrying the underlying message.
func (r *Relay) Execute(ctx context.Context, caller common.Address, characterID *uint64, call Callable) (*Result, error) {
	res, err := r.execute(ctx, caller, characterID, call)
	if err != nil {
		logger.Error("Relay call for %s failed: %s", caller.Hex(), err)
		return nil, &Error{Err: err}
	}
	return res, nil
}

func (r *Relay) execute(ctx context.Context, caller common.Address, characterID *uint64, call Callable) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.checkOperator(gctx, characterID)
	})
	g.Go(func() error {
		return r.checkBalance(caller)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res, err := r.signer.Submit(ctx, call)
	if err != nil {
		return nil, err
	}

	if res.TxHash != (common.Hash{}) {
		if err := r.billGas(ctx, caller, res.TxHash); err != nil {
			return nil, err
		}
	}

	// Give the event-sync side a chance to observe the resulting state
	// before the caller sees the response. Best-effort read-your-writes.
	select {
	case <-time.After(r.settleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return res, nil
}

func (r *Relay) checkOperator(_ context.Context, characterID *uint64) error {
	if characterID == nil {
		return nil
	}

	authorized, err := r.index.IsAuthorized(*characterID, r.signer.Address())
	if err != nil {
		return err
	}
	if !authorized {
		return &AuthorizationError{CharacterID: *characterID, Operator: r.signer.Address()}
	}
	return nil
}

func (r *Relay) checkBalance(caller common.Address) error {
	positive, err := r.credits.HasPositiveBalance(strings.ToLower(caller.Hex()))
	if err != nil {
		return err
	}
	if !positive {
		return ErrInsufficientBalance
	}
	return nil
}

// billGas debits the caller by the actual gas fee of the submitted
// transaction, in the chain's native value unit.
func (r *Relay) billGas(ctx context.Context, caller common.Address, txHash common.Hash) error {
	receipt, err := boff.RetryN(
		ctx,
		func() (*receiptGas, error) {
			receipt, err := r.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				return nil, err
			}
			return &receiptGas{used: receipt.GasUsed, price: receipt.EffectiveGasPrice}, nil
		},
		"transaction receipt",
		receiptRetries,
	)
	if err != nil {
		return errors.Wrapf(err, "receipt for tx %s", txHash.Hex())
	}

	gas := new(big.Int).SetUint64(receipt.used)
	if receipt.price != nil {
		gas.Mul(gas, receipt.price)
	}

	return r.credits.Debit(strings.ToLower(caller.Hex()), gas)
}

type receiptGas struct {
	used  uint64
	price *big.Int
}
