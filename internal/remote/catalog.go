package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/catalog"
	"github.com/angelmondragon/cartsync/internal/session"
	"github.com/angelmondragon/cartsync/pkg/config"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/shopspring/decimal"
)

const productsPath = "/api/products/"

type productPayload struct {
	ID    cart.ID         `json:"id" validate:"required"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" validate:"min=0"`
}

// CatalogClient reads products from the storefront catalog.
type CatalogClient struct {
	client *Client
}

var _ catalog.Fetcher = (*CatalogClient)(nil)

func NewCatalogClient(cfg config.RemoteConfig, opts ...ClientOption) (*CatalogClient, error) {
	client, err := NewClient("catalog", cfg.CatalogURL(), cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &CatalogClient{client: client}, nil
}

// FetchProduct loads one product. Catalog reads are public, so no identity
// headers are sent.
func (c *CatalogClient) FetchProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var payload productPayload
	if err := c.client.Do(ctx, http.MethodGet, productsPath+url.PathEscape(id), session.Identity{}, nil, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product "+id+" not found")
	}
	return &catalog.Product{
		ID:             payload.ID.String(),
		Name:           payload.Name,
		UnitPrice:      payload.Price,
		AvailableStock: payload.Stock,
	}, nil
}
