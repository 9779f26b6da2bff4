package permissions

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"opsign-relay/database"
	"opsign-relay/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	opSigner      = common.HexToAddress("0xBBC2918C9003D264c25EcAE45B44a846702C0E7c")
	otherOperator = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ownerAddress  = common.HexToAddress("0x2222222222222222222222222222222222222222")

	// LINK_CHARACTER (bit 178) plus POST_NOTE (bit 236).
	operatorBitmap = new(big.Int).SetBit(new(big.Int).SetBit(new(big.Int), 178, 1), 236, 1)
)

type staticOwners struct {
	owner common.Address
	err   error
}

func (o *staticOwners) OwnerOf(context.Context, uint64) (common.Address, error) {
	return o.owner, o.err
}

func newTestIndex(t *testing.T, owners OwnerResolver) (*Index, *ledger.Ledger, *gorm.DB) {
	t.Helper()

	db, err := database.ConnectAndInitializeTestDB()
	require.NoError(t, err)

	credits := ledger.New(db)
	index, err := NewIndex(db, DecodeBitmap, opSigner, credits, owners)
	require.NoError(t, err)

	return index, credits, db
}

func grantLog(characterID uint64, operator common.Address, bitmap *big.Int, block uint64, logIndex uint, txHash string) types.Log {
	return types.Log{
		Address: common.HexToAddress("0x22474d350ec2da53d717e30b96e9a2b7628ede5b"),
		Topics: []common.Hash{
			GrantEventTopic,
			common.BigToHash(new(big.Int).SetUint64(characterID)),
			common.BytesToHash(operator.Bytes()),
		},
		Data:        common.LeftPadBytes(bitmap.Bytes(), 32),
		BlockNumber: block,
		Index:       logIndex,
		TxHash:      common.HexToHash(txHash),
	}
}

func apply(t *testing.T, index *Index, logs ...types.Log) {
	t.Helper()
	require.NoError(t, index.Handler()(context.Background(), logs))
}

func TestGrantCreatesRowAndAuthorizes(t *testing.T) {
	index, _, _ := newTestIndex(t, &staticOwners{err: errors.New("unknown account")})

	apply(t, index, grantLog(42, otherOperator, operatorBitmap, 10, 0, "0x01"))

	authorized, err := index.IsAuthorized(42, otherOperator)
	require.NoError(t, err)
	require.True(t, authorized)

	authorized, err = index.IsAuthorized(42, opSigner)
	require.NoError(t, err)
	require.False(t, authorized)

	authorized, err = index.IsAuthorized(7, otherOperator)
	require.NoError(t, err)
	require.False(t, authorized)
}

func TestEmptyBitmapRevokes(t *testing.T) {
	index, _, _ := newTestIndex(t, &staticOwners{err: errors.New("unknown account")})

	apply(t, index, grantLog(42, otherOperator, operatorBitmap, 10, 0, "0x01"))
	apply(t, index, grantLog(42, otherOperator, new(big.Int), 11, 0, "0x02"))

	authorized, err := index.IsAuthorized(42, otherOperator)
	require.NoError(t, err)
	require.False(t, authorized)
}

func TestOutOfOrderDeliveryResolvesByCursor(t *testing.T) {
	index, _, db := newTestIndex(t, &staticOwners{err: errors.New("unknown account")})

	newer := grantLog(42, otherOperator, new(big.Int), 12, 1, "0x0b")
	older := grantLog(42, otherOperator, operatorBitmap, 10, 0, "0x0a")

	// The newer revocation arrives first; the stale grant must not win.
	apply(t, index, newer)
	apply(t, index, older)

	grant, err := database.FetchGrant(db, 42, strings.ToLower(otherOperator.Hex()))
	require.NoError(t, err)
	require.Empty(t, grant.Permissions)
	require.Equal(t, uint64(12), grant.UpdatedBlockNumber)
	require.Equal(t, uint(1), grant.UpdatedLogIndex)

	// Origin fields are first-write-wins: they keep the first applied event.
	require.Equal(t, uint64(12), grant.BlockNumber)
	require.Equal(t, newer.TxHash.Hex(), grant.TxHash)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	index, _, db := newTestIndex(t, &staticOwners{err: errors.New("unknown account")})

	log := grantLog(42, otherOperator, operatorBitmap, 10, 0, "0x01")
	apply(t, index, log)

	before, err := database.FetchGrant(db, 42, strings.ToLower(otherOperator.Hex()))
	require.NoError(t, err)

	apply(t, index, log)

	after, err := database.FetchGrant(db, 42, strings.ToLower(otherOperator.Hex()))
	require.NoError(t, err)
	require.Equal(t, before.Permissions, after.Permissions)
	require.Equal(t, before.UpdatedBlockNumber, after.UpdatedBlockNumber)
	require.Equal(t, before.UpdatedLogIndex, after.UpdatedLogIndex)
	require.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestWelcomeBonusForOperatorGrant(t *testing.T) {
	index, credits, _ := newTestIndex(t, &staticOwners{owner: ownerAddress})
	owner := strings.ToLower(ownerAddress.Hex())

	// Owner has an account with a small balance: bonus issued.
	require.NoError(t, credits.Credit(owner, big.NewInt(1)))
	apply(t, index, grantLog(42, opSigner, operatorBitmap, 10, 0, "0x01"))

	balance, err := credits.Balance(owner)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Add(WelcomeBonus, big.NewInt(1)).String(), balance)

	// A later grant does not re-issue, the balance now exceeds the bonus.
	apply(t, index, grantLog(42, opSigner, operatorBitmap, 11, 0, "0x02"))
	balance, err = credits.Balance(owner)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Add(WelcomeBonus, big.NewInt(1)).String(), balance)
}

func TestBonusSkippedForUnknownOwner(t *testing.T) {
	index, _, db := newTestIndex(t, &staticOwners{err: errors.New("unknown account")})

	// Handler must not fail even though the owner cannot be resolved.
	apply(t, index, grantLog(42, opSigner, operatorBitmap, 10, 0, "0x01"))

	grant, err := database.FetchGrant(db, 42, strings.ToLower(opSigner.Hex()))
	require.NoError(t, err)
	require.NotEmpty(t, grant.Permissions)
}

func TestDecodeBitmap(t *testing.T) {
	require.Empty(t, DecodeBitmap(new(big.Int)))
	require.Empty(t, DecodeBitmap(nil))

	set := DecodeBitmap(operatorBitmap)
	require.Equal(t, []string{"LINK_CHARACTER", "POST_NOTE"}, set)

	// Unknown bits are skipped.
	unknown := new(big.Int).SetBit(new(big.Int), 100, 1)
	require.Empty(t, DecodeBitmap(unknown))
}
