// Package catalog is the HTTP client for the catalog collaborator.
// Only the metadata pricing needs is fetched; browsing and search stay
// with the catalog service.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaanyurdkl/storefront/internal/service"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type productDTO struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Gender      string          `json:"gender"`
	Price       decimal.Decimal `json:"price"`
}

func (c *Client) Products(ctx context.Context, productIDs []string) (map[string]service.ProductInfo, error) {
	if len(productIDs) == 0 {
		return map[string]service.ProductInfo{}, nil
	}

	endpoint := fmt.Sprintf("%s/products?ids=%s", c.baseURL, url.QueryEscape(strings.Join(productIDs, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var dtos []productDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	products := make(map[string]service.ProductInfo, len(dtos))
	for _, dto := range dtos {
		products[dto.ID] = service.ProductInfo{
			Category:    dto.Category,
			Subcategory: dto.Subcategory,
			Gender:      dto.Gender,
			Price:       dto.Price,
		}
	}
	return products, nil
}
