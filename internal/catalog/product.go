package catalog

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is the read-only projection of a catalog product the cart needs.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	AvailableStock int             `json:"available_stock"`
}

// Fetcher resolves a product from the remote catalog. Unknown ids must
// surface as a NOT_FOUND error.
type Fetcher interface {
	FetchProduct(ctx context.Context, id string) (*Product, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id string) (*Product, error)

func (fn FetcherFunc) FetchProduct(ctx context.Context, id string) (*Product, error) {
	return fn(ctx, id)
}
