package relay

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"opsign-relay/config"
	"opsign-relay/database"
	"opsign-relay/ledger"
	"opsign-relay/permissions"
	mocks "opsign-relay/testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var caller = common.HexToAddress("0x3333333333333333333333333333333333333333")

type noOwners struct{}

func (noOwners) OwnerOf(context.Context, uint64) (common.Address, error) {
	return common.Address{}, errors.New("unknown account")
}

type testRelay struct {
	relay   *Relay
	signer  *Signer
	credits *ledger.Ledger
	client  *mocks.MockClient
	db      *gorm.DB
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := config.RelayConfig{
		OperatorAddress:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		OperatorPrivateKey: common.Bytes2Hex(crypto.FromECDSA(key)),
		SubmitRetries:      3,
	}

	client := mocks.NewMockClient(100)
	signer, err := NewSigner(cfg, client)
	require.NoError(t, err)

	db, err := database.ConnectAndInitializeTestDB()
	require.NoError(t, err)

	credits := ledger.New(db)
	index, err := permissions.NewIndex(db, permissions.DecodeBitmap, signer.Address(), credits, noOwners{})
	require.NoError(t, err)

	return &testRelay{
		relay:   New(cfg, signer, index, credits, client),
		signer:  signer,
		credits: credits,
		client:  client,
		db:      db,
	}
}

func (tr *testRelay) grantOperator(t *testing.T, characterID uint64) {
	t.Helper()

	now := time.Now()
	grant := &database.OperatorGrant{
		CharacterID: characterID,
		Operator:    strings.ToLower(tr.signer.Address().Hex()),
		Permissions: "POST_NOTE",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, tr.db.Create(grant).Error)
}

func countingCall(calls *int, res *Result) Callable {
	return func(ctx context.Context, nonce uint64) (*Result, error) {
		*calls++
		return res, nil
	}
}

func TestExecuteBillsActualGas(t *testing.T) {
	tr := newTestRelay(t)
	address := strings.ToLower(caller.Hex())
	require.NoError(t, tr.credits.Credit(address, big.NewInt(100)))

	txHash := common.HexToHash("0xaa")
	tr.client.SetReceipt(txHash, &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           30,
		EffectiveGasPrice: big.NewInt(1),
	})

	calls := 0
	res, err := tr.relay.Execute(context.Background(), caller, nil, countingCall(&calls, &Result{Data: "ok", TxHash: txHash}))
	require.NoError(t, err)
	require.Equal(t, "ok", res.Data)
	require.Equal(t, 1, calls)

	balance, err := tr.credits.Balance(address)
	require.NoError(t, err)
	require.Equal(t, "70", balance)
}

func TestExecuteRejectsZeroBalance(t *testing.T) {
	tr := newTestRelay(t)

	calls := 0
	_, err := tr.relay.Execute(context.Background(), caller, nil, countingCall(&calls, &Result{}))
	require.Error(t, err)

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Rejected before any nonce was issued or the call was attempted.
	require.Equal(t, 0, calls)
	require.Equal(t, 0, tr.client.NonceCalls)
}

func TestExecuteRejectsUngrantedOperator(t *testing.T) {
	tr := newTestRelay(t)
	require.NoError(t, tr.credits.Credit(strings.ToLower(caller.Hex()), big.NewInt(100)))

	characterID := uint64(42)
	calls := 0
	_, err := tr.relay.Execute(context.Background(), caller, &characterID, countingCall(&calls, &Result{}))
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, characterID, authErr.CharacterID)
	require.Equal(t, 0, calls)
	require.Equal(t, 0, tr.client.NonceCalls)
}

func TestExecuteGatedCallWithGrant(t *testing.T) {
	tr := newTestRelay(t)
	require.NoError(t, tr.credits.Credit(strings.ToLower(caller.Hex()), big.NewInt(100)))
	tr.grantOperator(t, 42)

	characterID := uint64(42)
	calls := 0
	_, err := tr.relay.Execute(context.Background(), caller, &characterID, countingCall(&calls, &Result{Data: "ok"}))
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestExecuteWithoutTxHashSkipsBilling(t *testing.T) {
	tr := newTestRelay(t)
	address := strings.ToLower(caller.Hex())
	require.NoError(t, tr.credits.Credit(address, big.NewInt(100)))

	_, err := tr.relay.Execute(context.Background(), caller, nil, countingCall(new(int), &Result{Data: "ok"}))
	require.NoError(t, err)

	balance, err := tr.credits.Balance(address)
	require.NoError(t, err)
	require.Equal(t, "100", balance)
}

func TestSubmitIssuesFreshNoncePerCall(t *testing.T) {
	tr := newTestRelay(t)

	for i := 0; i < 3; i++ {
		_, err := tr.signer.Submit(context.Background(), func(ctx context.Context, nonce uint64) (*Result, error) {
			return &Result{}, nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, tr.client.NonceCalls)
}

func TestSubmitRetriesBounded(t *testing.T) {
	tr := newTestRelay(t)

	calls := 0
	_, err := tr.signer.Submit(context.Background(), func(ctx context.Context, nonce uint64) (*Result, error) {
		calls++
		return nil, errors.New("underpriced")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, tr.client.NonceCalls)
}

func TestNewSignerRejectsMalformedKey(t *testing.T) {
	_, err := NewSigner(config.RelayConfig{
		OperatorAddress:    caller.Hex(),
		OperatorPrivateKey: "not-a-key",
	}, mocks.NewMockClient(0))
	require.Error(t, err)
}

func TestNewSignerRejectsMismatchedAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewSigner(config.RelayConfig{
		OperatorAddress:    caller.Hex(),
		OperatorPrivateKey: common.Bytes2Hex(crypto.FromECDSA(key)),
	}, mocks.NewMockClient(0))
	require.Error(t, err)
}
