package deposit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Transfer is one inbound native-token transfer as reported by the external
// chain-indexing API.
type Transfer struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber string `json:"block_number"`
	Timestamp   string `json:"timestamp"`
}

func (t *Transfer) blockNumber() (uint64, error) {
	n, err := strconv.ParseUint(t.BlockNumber, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "transfer %s has malformed block number %q", t.Hash, t.BlockNumber)
	}
	return n, nil
}

// IndexerClient queries the chain-indexing API for transactions sent to an
// address, paginated by block number plus an opaque cursor.
type IndexerClient struct {
	baseURL string
	http    *http.Client
}

func NewIndexerClient(baseURL string) *IndexerClient {
	return &IndexerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *IndexerClient) Transactions(ctx context.Context, to string, fromBlock uint64, cursor string, limit int) ([]Transfer, error) {
	params := url.Values{}
	params.Set("to", to)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("block_number_from", strconv.FormatUint(fromBlock, 10))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	reqURL := fmt.Sprintf("%s/transactions?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Transactions: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Transactions: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("Transactions: unexpected status %d from indexer", resp.StatusCode)
	}

	var transfers []Transfer
	if err := json.NewDecoder(resp.Body).Decode(&transfers); err != nil {
		return nil, errors.Wrap(err, "Transactions: decode response")
	}

	return transfers, nil
}
