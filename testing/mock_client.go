package testing

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// MockClient is a scriptable in-memory chain.Client for tests.
type MockClient struct {
	mu sync.Mutex

	head     uint64
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt
	nonce    uint64

	watchCh     chan<- types.Log
	watchedSubs []*MockSubscription

	// Call counters for assertions.
	FilterCalls      int
	FilterRanges     [][2]uint64
	NonceCalls       int
	BlockNumberCalls int
}

func NewMockClient(head uint64) *MockClient {
	return &MockClient{
		head:     head,
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (m *MockClient) SetHead(head uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = head
}

func (m *MockClient) AddLog(log types.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
}

func (m *MockClient) SetReceipt(txHash common.Hash, receipt *types.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[txHash] = receipt
}

func (m *MockClient) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BlockNumberCalls++
	return m.head, nil
}

func (m *MockClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	m.FilterCalls++
	m.FilterRanges = append(m.FilterRanges, [2]uint64{from, to})

	var matched []types.Log
	for _, log := range m.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			matched = append(matched, log)
		}
	}
	return matched, nil
}

func (m *MockClient) WatchLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.watchCh = ch
	sub := NewMockSubscription()
	m.watchedSubs = append(m.watchedSubs, sub)
	return sub, nil
}

// WatchEstablished reports whether a live subscription is open.
func (m *MockClient) WatchEstablished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watchCh != nil
}

// EmitLog delivers a log to the live subscription, as if the node pushed it.
func (m *MockClient) EmitLog(log types.Log) {
	m.mu.Lock()
	ch := m.watchCh
	m.mu.Unlock()

	if ch != nil {
		ch <- log
	}
}

// FailSubscription pushes an error to every open subscription.
func (m *MockClient) FailSubscription(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.watchedSubs {
		sub.Fail(err)
	}
}

func (m *MockClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt, ok := m.receipts[txHash]
	if !ok {
		return nil, errors.Errorf("no receipt for %s", txHash.Hex())
	}
	return receipt, nil
}

func (m *MockClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.NonceCalls++
	return m.nonce, nil
}

// MockSubscription implements ethereum.Subscription.
type MockSubscription struct {
	errCh chan error
	once  sync.Once
}

func NewMockSubscription() *MockSubscription {
	return &MockSubscription{errCh: make(chan error, 1)}
}

func (s *MockSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

func (s *MockSubscription) Err() <-chan error {
	return s.errCh
}

func (s *MockSubscription) Fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
