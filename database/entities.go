package database

import (
	"time"
)

// BaseEntity is an abstract entity, all other entities should be derived from it
type BaseEntity struct {
	ID uint64 `gorm:"primaryKey"`
}

// EventCheckpoint records, per named event stream, the last block that has
// been durably applied. BlockNumber never decreases. The deposit watcher
// additionally stores its pagination cursor in CursorToken.
type EventCheckpoint struct {
	BaseEntity
	StreamName  string `gorm:"type:varchar(100);uniqueIndex"`
	BlockNumber uint64
	CursorToken string `gorm:"type:varchar(66)"`
	Updated     time.Time
}

func (c *EventCheckpoint) Advance(blockNumber uint64) {
	if blockNumber > c.BlockNumber {
		c.BlockNumber = blockNumber
	}
	c.Updated = time.Now()
}

// OperatorGrant is the materialized view of one on-chain permission grant,
// unique per (CharacterID, Operator). The Updated* triple orders conflicting
// deliveries; the origin triple (TxHash, BlockNumber, LogIndex) is
// first-write-wins.
type OperatorGrant struct {
	BaseEntity
	CharacterID        uint64 `gorm:"uniqueIndex:idx_character_operator"`
	Operator           string `gorm:"type:varchar(42);uniqueIndex:idx_character_operator"`
	Permissions        string `gorm:"type:varchar(2000)"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	TxHash             string `gorm:"type:varchar(66)"`
	BlockNumber        uint64
	LogIndex           uint
	UpdatedTxHash      string `gorm:"type:varchar(66)"`
	UpdatedBlockNumber uint64
	UpdatedLogIndex    uint
}

// CreditAccount is the prepaid gas balance of one user address. Totals are
// decimal wei strings; the effective balance is CsbRecharged - CsbSpent,
// floored at zero.
type CreditAccount struct {
	BaseEntity
	Address      string `gorm:"type:varchar(42);uniqueIndex"`
	CsbRecharged string `gorm:"type:varchar(78);default:0"`
	CsbSpent     string `gorm:"type:varchar(78);default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DepositRecord marks an inbound transfer as credited. The unique TxHash
// keeps a re-fetched page from crediting the same transfer twice.
type DepositRecord struct {
	BaseEntity
	TxHash      string `gorm:"type:varchar(66);uniqueIndex"`
	Sender      string `gorm:"type:varchar(42)"`
	Amount      string `gorm:"type:varchar(78)"`
	BlockNumber uint64
	CreatedAt   time.Time
}
