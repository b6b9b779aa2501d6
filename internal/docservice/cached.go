package docservice

import (
	"context"

	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/cache"
)

// CachedClient serves repeated identical requests from a DocumentCache.
type CachedClient struct {
	*Client
	Cache *cache.DocumentCache
}

// NewCached wraps c. A nil dc disables caching.
func NewCached(c *Client, dc *cache.DocumentCache) *CachedClient {
	return &CachedClient{Client: c, Cache: dc}
}

func (c *CachedClient) Generate(ctx context.Context, req domain.TicketRequest, token string) (domain.RenderedDocument, error) {
	body, err := req.Body()
	if err != nil {
		return domain.RenderedDocument{}, &domain.RequestSetupError{Err: err}
	}
	if c.Cache == nil {
		return c.post(ctx, body, token)
	}

	key := cache.Key(body, token)
	if data := c.Cache.Get(ctx, key); data != nil {
		return domain.RenderedDocument{Data: data, MediaType: domain.MediaTypePDF, Cached: true}, nil
	}

	doc, err := c.post(ctx, body, token)
	if err != nil {
		return doc, err
	}
	c.Cache.Set(ctx, key, doc.Data)
	return doc, nil
}
