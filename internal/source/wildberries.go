package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"price-tracker/internal/domain"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

var (
	ErrProductMissing = errors.New("product not present in response")
	ErrBadStatus      = errors.New("unexpected response status")
)

// Client fetches product cards from the Wildberries card API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a card API client. The timeout bounds the whole request;
// zero means the 10 second default.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// cardResponse mirrors the subset of the card API payload we read.
// salePriceU is the sale price in minor units (kopecks).
type cardResponse struct {
	Data struct {
		Products []struct {
			ID         int64  `json:"id"`
			Name       string `json:"name"`
			Brand      string `json:"brand"`
			SalePriceU *int64 `json:"salePriceU"`
		} `json:"products"`
	} `json:"data"`
}

// Fetch retrieves the current name, brand and price for one article.
// A nil snapshot price means the item is listed but not purchasable.
// All failure modes are reported as *FetchError.
func (c *Client) Fetch(ctx context.Context, article int64) (*domain.Snapshot, error) {
	url := fmt.Sprintf("%s/cards/detail?appType=1&curr=rub&dest=-1257786&nm=%d", c.baseURL, article)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Article: article, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("card request failed", zap.Int64("article", article), zap.Error(err))
		return nil, &FetchError{Article: article, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("card request rejected",
			zap.Int64("article", article),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &FetchError{Article: article, Err: fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)}
	}

	var payload cardResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Article: article, Err: fmt.Errorf("decode payload: %w", err)}
	}

	if len(payload.Data.Products) == 0 {
		return nil, &FetchError{Article: article, Err: ErrProductMissing}
	}

	card := payload.Data.Products[0]
	snap := &domain.Snapshot{
		ID:    card.ID,
		Name:  card.Name,
		Brand: card.Brand,
	}
	// A zero sale price means the card is listed but not purchasable,
	// same as an absent one.
	if card.SalePriceU != nil && *card.SalePriceU != 0 {
		// Minor units to whole currency units, integer division.
		price := *card.SalePriceU / 100
		snap.Price = &price
	}

	return snap, nil
}
