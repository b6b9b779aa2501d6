// Package docservice talks to the Document Service that renders tickets.
package docservice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/logging"
)

// TicketPath is appended to the configured base URL.
const TicketPath = "/taxes/documents/generate-ticket/"

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// Client posts ticket requests and returns the raw PDF bytes.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New builds a Client from the service section of the config.
func New(cfg config.ServiceConfig) *Client {
	return &Client{
		BaseURL: cfg.BaseURL,
		HTTP:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Endpoint resolves the generate-ticket URL against BaseURL.
func (c *Client) Endpoint() (string, error) {
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("base url %q must be http or https", c.BaseURL)
	}
	if base.Host == "" {
		return "", fmt.Errorf("base url %q has no host", c.BaseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/") + TicketPath
	return base.String(), nil
}

// Generate sends req and returns the rendered document. Errors are always one of
// *domain.RequestSetupError, *domain.NetworkError or *domain.ServerError.
func (c *Client) Generate(ctx context.Context, req domain.TicketRequest, token string) (domain.RenderedDocument, error) {
	body, err := req.Body()
	if err != nil {
		return domain.RenderedDocument{}, &domain.RequestSetupError{Err: err}
	}
	return c.post(ctx, body, token)
}

func (c *Client) post(ctx context.Context, body []byte, token string) (domain.RenderedDocument, error) {
	endpoint, err := c.Endpoint()
	if err != nil {
		return domain.RenderedDocument{}, &domain.RequestSetupError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.RenderedDocument{}, &domain.RequestSetupError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", domain.MediaTypePDF)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return domain.RenderedDocument{}, &domain.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logging.Warn("Document service rejected ticket", "status", resp.StatusCode, "endpoint", endpoint)
		return domain.RenderedDocument{}, &domain.ServerError{Status: resp.StatusCode, Body: diag}
	}

	// Binary payload: read as bytes, never through a text decoder.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RenderedDocument{}, &domain.NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}

	mediaType := resp.Header.Get("Content-Type")
	if mt, _, perr := mime.ParseMediaType(mediaType); perr == nil {
		mediaType = mt
	}
	if mediaType != domain.MediaTypePDF {
		logging.Warn("Document service returned unexpected media type", "content_type", mediaType, "bytes", len(data))
	}

	return domain.RenderedDocument{
		Data:              data,
		MediaType:         domain.MediaTypePDF,
		SuggestedFilename: dispositionFilename(resp.Header.Get("Content-Disposition")),
	}, nil
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
