package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/session"
	"github.com/angelmondragon/cartsync/pkg/config"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	cartPath      = "/api/carts/me"
	cartItemsPath = "/api/carts/me/items"
)

type cartEnvelope struct {
	Cart  *cartBody       `json:"cart" validate:"required"`
	Total decimal.Decimal `json:"total"`
}

type cartBody struct {
	CartItems []cart.Line `json:"cartItems" validate:"required,dive"`
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// CartClient talks to the authoritative cart service. Every mutating call
// answers with the full server-side line list.
type CartClient struct {
	client *Client
}

var _ cart.Remote = (*CartClient)(nil)

func NewCartClient(cfg config.RemoteConfig, opts ...ClientOption) (*CartClient, error) {
	client, err := NewClient("cart", cfg.CartBaseURL, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &CartClient{client: client}, nil
}

func (c *CartClient) GetCart(ctx context.Context, id session.Identity) ([]cart.Line, error) {
	return c.lines(ctx, http.MethodGet, cartPath, id, nil)
}

func (c *CartClient) AddItem(ctx context.Context, id session.Identity, productID cart.ID, quantity int) ([]cart.Line, error) {
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return c.lines(ctx, http.MethodPost, cartItemsPath, id, addItemRequest{ProductID: productID.String(), Quantity: quantity})
}

func (c *CartClient) RemoveItem(ctx context.Context, id session.Identity, lineID cart.ID) ([]cart.Line, error) {
	if lineID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
	}
	return c.lines(ctx, http.MethodDelete, itemPath(lineID), id, nil)
}

func (c *CartClient) UpdateQuantity(ctx context.Context, id session.Identity, lineID cart.ID, quantity int) ([]cart.Line, error) {
	if lineID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
	}
	return c.lines(ctx, http.MethodPut, itemPath(lineID), id, updateQuantityRequest{Quantity: quantity})
}

func (c *CartClient) Clear(ctx context.Context, id session.Identity) error {
	return c.client.Do(ctx, http.MethodDelete, cartPath, id, nil, nil)
}

func (c *CartClient) lines(ctx context.Context, method, path string, id session.Identity, in any) ([]cart.Line, error) {
	var env cartEnvelope
	if err := c.client.Do(ctx, method, path, id, in, &env); err != nil {
		return nil, err
	}
	return env.Cart.CartItems, nil
}

// itemPath returns an escaped path; the client parses it back so the id
// reaches the server as a single segment.
func itemPath(lineID cart.ID) string {
	return cartItemsPath + "/" + url.PathEscape(lineID.String())
}
