package syncer

import (
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// Cursor is the position of a log within the chain. Two logs in the same
// block are ordered by their log index.
type Cursor struct {
	BlockNumber uint64
	LogIndex    uint
}

// After reports whether c is strictly after other.
func (c Cursor) After(other Cursor) bool {
	if c.BlockNumber == other.BlockNumber {
		return c.LogIndex > other.LogIndex
	}

	return c.BlockNumber > other.BlockNumber
}

func CursorOf(log *types.Log) Cursor {
	return Cursor{BlockNumber: log.BlockNumber, LogIndex: log.Index}
}

// SortLogs orders logs by (blockNumber, logIndex) ascending.
func SortLogs(logs []types.Log) {
	sort.Slice(logs, func(i, j int) bool {
		return CursorOf(&logs[j]).After(CursorOf(&logs[i]))
	})
}

// MaxBlockNumber returns the highest block number in the delivery, or 0 for
// an empty delivery.
func MaxBlockNumber(logs []types.Log) uint64 {
	var max uint64
	for i := range logs {
		if logs[i].BlockNumber > max {
			max = logs[i].BlockNumber
		}
	}
	return max
}
