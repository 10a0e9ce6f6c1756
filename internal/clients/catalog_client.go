// internal/clients/catalog_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"libracirc/internal/catalog"
)

type CatalogClient struct {
	t *Transport
}

func NewCatalogClient(t *Transport) *CatalogClient {
	return &CatalogClient{t: t}
}

func (c *CatalogClient) AddItem(ctx context.Context, isbn, title, author string, copies int) (*catalog.Item, error) {
	req := struct {
		ISBN        string `json:"isbn"`
		Title       string `json:"title"`
		Author      string `json:"author"`
		TotalCopies int    `json:"total_copies"`
	}{isbn, title, author, copies}

	var item catalog.Item
	if err := c.t.do(ctx, http.MethodPost, "/items", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *CatalogClient) GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	var item catalog.Item
	if err := c.t.do(ctx, http.MethodGet, "/items/"+id.String(), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}
