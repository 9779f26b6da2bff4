package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// IndexerOwnerResolver resolves account owners through the external
// chain-indexing API's character endpoint.
type IndexerOwnerResolver struct {
	baseURL string
	http    *http.Client
}

func NewIndexerOwnerResolver(baseURL string) *IndexerOwnerResolver {
	return &IndexerOwnerResolver{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *IndexerOwnerResolver) OwnerOf(ctx context.Context, characterID uint64) (common.Address, error) {
	reqURL := fmt.Sprintf("%s/characters/%d", r.baseURL, characterID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "OwnerOf: build request")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "OwnerOf: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return common.Address{}, errors.Errorf("OwnerOf: unexpected status %d for account %d", resp.StatusCode, characterID)
	}

	var character struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&character); err != nil {
		return common.Address{}, errors.Wrap(err, "OwnerOf: decode response")
	}

	if !common.IsHexAddress(character.Owner) {
		return common.Address{}, errors.Errorf("OwnerOf: account %d has no known owner", characterID)
	}

	return common.HexToAddress(character.Owner), nil
}
