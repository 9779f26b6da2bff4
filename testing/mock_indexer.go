package testing

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// MockTransfer mirrors the chain-indexing API's transaction shape.
type MockTransfer struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber string `json:"block_number"`
	Timestamp   string `json:"timestamp"`
}

// MockIndexer serves the paginated transactions endpoint of the external
// chain-indexing API from an in-memory transfer list.
type MockIndexer struct {
	mu        sync.Mutex
	transfers []MockTransfer
	router    *mux.Router
}

func NewMockIndexer() *MockIndexer {
	m := &MockIndexer{}

	r := mux.NewRouter()
	r.HandleFunc("/transactions", m.handleTransactions).Methods(http.MethodGet)
	m.router = r

	return m
}

func (m *MockIndexer) Router() http.Handler {
	return m.router
}

func (m *MockIndexer) AddTransfer(transfer MockTransfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, transfer)
}

func (m *MockIndexer) handleTransactions(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()

	to := query.Get("to")
	cursor := query.Get("cursor")
	fromBlock, _ := strconv.ParseUint(query.Get("block_number_from"), 10, 64)
	limit, err := strconv.Atoi(query.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The cursor is the hash of the last delivered transfer: skip everything
	// up to and including it.
	afterCursor := cursor == ""
	var page []MockTransfer
	for _, transfer := range m.transfers {
		if !afterCursor {
			if transfer.Hash == cursor {
				afterCursor = true
			}
			continue
		}

		block, err := strconv.ParseUint(transfer.BlockNumber, 10, 64)
		if err != nil || block < fromBlock {
			continue
		}
		if to != "" && !strings.EqualFold(transfer.To, to) {
			continue
		}

		page = append(page, transfer)
		if len(page) == limit {
			break
		}
	}

	writer.Header().Set("Content-Type", "application/json")
	if page == nil {
		page = []MockTransfer{}
	}
	if err := json.NewEncoder(writer).Encode(page); err != nil {
		http.Error(writer, "encoding error", http.StatusInternalServerError)
	}
}
