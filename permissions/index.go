// Package permissions maintains the materialized view of on-chain operator
// grants and answers whether the shared operator may act for an account.
package permissions

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"opsign-relay/chain"
	"opsign-relay/database"
	"opsign-relay/ledger"
	"opsign-relay/logger"
	"opsign-relay/syncer"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	GrantEventSignature = "GrantOperatorPermissions(uint256,address,uint256)"

	grantEventABI = `[{
		"type": "event",
		"name": "GrantOperatorPermissions",
		"inputs": [
			{"internalType": "uint256", "name": "characterId", "type": "uint256", "indexed": true},
			{"internalType": "address", "name": "operator", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "permissionBitMap", "type": "uint256", "indexed": false}
		]
	}]`
)

// WelcomeBonus is credited to an account owner the first time the shared
// operator is granted permissions for that account: 0.01 native token.
var WelcomeBonus = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

var GrantEventTopic = chain.EventTopic(GrantEventSignature)

// Decoder converts a permission bitmap into a named permission set. Supplied
// as a capability so the index does not encode the contract's bit layout.
type Decoder func(bitmap *big.Int) []string

// OwnerResolver looks up the owner address of an account, used to decide who
// receives the welcome bonus.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, characterID uint64) (common.Address, error)
}

type Index struct {
	db       *gorm.DB
	decode   Decoder
	operator common.Address
	credits  *ledger.Ledger
	owners   OwnerResolver

	grantABI abi.ABI
	mu       sync.Mutex
}

func NewIndex(db *gorm.DB, decode Decoder, operator common.Address, credits *ledger.Ledger, owners OwnerResolver) (*Index, error) {
	grantABI, err := abi.JSON(strings.NewReader(grantEventABI))
	if err != nil {
		return nil, errors.Wrap(err, "NewIndex: parse grant event ABI")
	}

	return &Index{
		db:       db,
		decode:   decode,
		operator: operator,
		credits:  credits,
		owners:   owners,
		grantABI: grantABI,
	}, nil
}

// Handler returns the stream handler that applies grant events. Safe for
// re-delivery: an event with a (blockNumber, logIndex) not strictly after the
// stored one leaves the row unchanged.
func (ix *Index) Handler() syncer.Handler {
	return func(ctx context.Context, logs []types.Log) error {
		for i := range logs {
			if err := ix.applyGrantLog(ctx, &logs[i]); err != nil {
				return err
			}
		}
		return nil
	}
}

func (ix *Index) applyGrantLog(ctx context.Context, log *types.Log) error {
	if len(log.Topics) < 3 {
		logger.Warn("Skipping malformed grant log in tx %s", log.TxHash.Hex())
		return nil
	}

	characterID := log.Topics[1].Big().Uint64()
	operator := common.BytesToAddress(log.Topics[2].Bytes())

	var eventData struct {
		PermissionBitMap *big.Int
	}
	if err := ix.grantABI.UnpackIntoInterface(&eventData, "GrantOperatorPermissions", log.Data); err != nil {
		return errors.Wrapf(err, "unpack grant event in tx %s", log.TxHash.Hex())
	}

	grant := &database.OperatorGrant{
		CharacterID:        characterID,
		Operator:           strings.ToLower(operator.Hex()),
		Permissions:        strings.Join(ix.decode(eventData.PermissionBitMap), ","),
		TxHash:             log.TxHash.Hex(),
		BlockNumber:        log.BlockNumber,
		LogIndex:           log.Index,
		UpdatedTxHash:      log.TxHash.Hex(),
		UpdatedBlockNumber: log.BlockNumber,
		UpdatedLogIndex:    log.Index,
	}

	if err := ix.upsertGrant(grant); err != nil {
		return err
	}

	if operator == ix.operator {
		ix.rewardOwner(ctx, characterID)
	}

	return nil
}

// upsertGrant applies the total order over (blockNumber, logIndex): only an
// event strictly after the stored update wins; origin fields keep their first
// written values.
func (ix *Index) upsertGrant(grant *database.OperatorGrant) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	existing, err := database.FetchGrant(ix.db, grant.CharacterID, grant.Operator)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		grant.CreatedAt = now
		grant.UpdatedAt = now
		return errors.Wrap(ix.db.Create(grant).Error, "upsertGrant: create")
	} else if err != nil {
		return errors.Wrap(err, "upsertGrant: fetch")
	}

	incoming := syncer.Cursor{BlockNumber: grant.UpdatedBlockNumber, LogIndex: grant.UpdatedLogIndex}
	stored := syncer.Cursor{BlockNumber: existing.UpdatedBlockNumber, LogIndex: existing.UpdatedLogIndex}
	if !incoming.After(stored) {
		return nil
	}

	existing.Permissions = grant.Permissions
	existing.UpdatedAt = time.Now()
	existing.UpdatedTxHash = grant.UpdatedTxHash
	existing.UpdatedBlockNumber = grant.UpdatedBlockNumber
	existing.UpdatedLogIndex = grant.UpdatedLogIndex

	return errors.Wrap(database.SaveGrant(ix.db, existing), "upsertGrant: save")
}

// rewardOwner credits the welcome bonus to the account owner. Best-effort:
// failures are logged, never propagated into the stream.
func (ix *Index) rewardOwner(ctx context.Context, characterID uint64) {
	owner, err := ix.owners.OwnerOf(ctx, characterID)
	if err != nil {
		logger.Warn("Failed to resolve owner of account %d: %s", characterID, err)
		return
	}

	if err := ix.credits.CreditBonus(strings.ToLower(owner.Hex()), WelcomeBonus); err != nil {
		logger.Error("Failed to send bonus to %s: %s", owner.Hex(), err)
	}
}

// IsAuthorized reports whether operator holds a grant with a non-empty
// permission set for the account.
func (ix *Index) IsAuthorized(characterID uint64, operator common.Address) (bool, error) {
	grants, err := database.GrantsForCharacter(ix.db, characterID)
	if err != nil {
		return false, errors.Wrap(err, "IsAuthorized")
	}

	target := strings.ToLower(operator.Hex())
	for i := range grants {
		if grants[i].Operator == target && grants[i].Permissions != "" {
			return true, nil
		}
	}
	return false, nil
}
