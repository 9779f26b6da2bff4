package relay

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"

	"opsign-relay/boff"
	"opsign-relay/chain"
	"opsign-relay/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Result is what a contract-call SDK write method returns: the decoded call
// result and the hash of the submitted transaction.
type Result struct {
	Data   interface{}
	TxHash common.Hash
}

// Callable executes one contract write with the nonce issued by the signer.
type Callable func(ctx context.Context, nonce uint64) (*Result, error)

// Signer is the one shared operator wallet every relayed transaction is
// signed with. Nonce issuance and submission run inside a single exclusive
// section per signing account so concurrent relay calls cannot collide.
type Signer struct {
	address common.Address
	key     *ecdsa.PrivateKey
	client  chain.Client
	retries uint

	mu sync.Mutex
}

func NewSigner(cfg config.RelayConfig, client chain.Client) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorPrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "NewSigner: invalid operator private key")
	}

	address := common.HexToAddress(cfg.OperatorAddress)
	if derived := crypto.PubkeyToAddress(key.PublicKey); derived != address {
		return nil, errors.Errorf(
			"NewSigner: operator key belongs to %s, not the configured address %s",
			derived.Hex(), address.Hex(),
		)
	}

	retries := cfg.SubmitRetries
	if retries == 0 {
		retries = 3
	}

	return &Signer{
		address: address,
		key:     key,
		client:  client,
		retries: retries,
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKey hands the signing key to the embedding contract-call layer,
// which builds and signs the transactions submitted through Submit.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// Submit issues a fresh pending-inclusive nonce and runs the callable,
// retrying transient failures a bounded number of times. A fresh nonce is
// taken on every attempt in case the previous one reached the node.
func (s *Signer) Submit(ctx context.Context, call Callable) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return boff.RetryN(
		ctx,
		func() (*Result, error) {
			nonce, err := s.client.PendingNonceAt(ctx, s.address)
			if err != nil {
				return nil, errors.Wrap(err, "client.PendingNonceAt")
			}
			return call(ctx, nonce)
		},
		"relay submit",
		s.retries,
	)
}
