package docservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/cache"
)

// pdfBytes contains bytes that are not valid UTF-8 to catch text decoding.
var pdfBytes = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n\x00\xff\xfe binary\n%%EOF")

func sampleRequest() domain.TicketRequest {
	return domain.TicketRequest{
		Items:       []domain.OrderItem{{ID: "1", Name: "Producto 1", Quantity: 2, UnitCost: decimal.RequireFromString("10.00")}},
		OrderNumber: domain.StringPtr("ORD-001"),
	}
}

func TestGenerate_SendsContractAndReturnsRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, TicketPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ORD-001", body["order_number"])
		assert.Contains(t, body, "customer_name")
		assert.Nil(t, body["customer_name"])
		assert.Len(t, body["order_items"], 1)

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="ticket_ORD-001.pdf"`)
		_, _ = w.Write(pdfBytes)
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{BaseURL: srv.URL + "/"})
	doc, err := c.Generate(context.Background(), sampleRequest(), "secret")
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, doc.Data)
	assert.Equal(t, domain.MediaTypePDF, doc.MediaType)
	assert.Equal(t, "ticket_ORD-001.pdf", doc.SuggestedFilename)
	assert.False(t, doc.Cached)
}

func TestGenerate_OmitsAuthorizationWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write(pdfBytes)
	}))
	defer srv.Close()

	_, err := New(config.ServiceConfig{BaseURL: srv.URL}).Generate(context.Background(), sampleRequest(), "")
	require.NoError(t, err)
}

func TestGenerate_ServerErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"order_items":["This field is required."]}`)
	}))
	defer srv.Close()

	_, err := New(config.ServiceConfig{BaseURL: srv.URL}).Generate(context.Background(), sampleRequest(), "")
	var se *domain.ServerError
	require.True(t, errors.As(err, &se), "got %T", err)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Contains(t, string(se.Body), "order_items")
}

func TestGenerate_NetworkErrorWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(config.ServiceConfig{BaseURL: url}).Generate(context.Background(), sampleRequest(), "")
	var ne *domain.NetworkError
	assert.True(t, errors.As(err, &ne), "got %T: %v", err, err)
}

func TestGenerate_NetworkErrorOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(config.ServiceConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Generate(context.Background(), sampleRequest(), "")
	var ne *domain.NetworkError
	assert.True(t, errors.As(err, &ne), "got %T: %v", err, err)
}

func TestGenerate_SetupErrorOnBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "ftp://x", "http://", "http://[::1"} {
		_, err := New(config.ServiceConfig{BaseURL: base}).Generate(context.Background(), sampleRequest(), "")
		var se *domain.RequestSetupError
		assert.True(t, errors.As(err, &se), "base=%q got %T: %v", base, err, err)
	}
}

func TestEndpoint_JoinsBasePath(t *testing.T) {
	c := &Client{BaseURL: "https://pos.example.com/api/"}
	got, err := c.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "https://pos.example.com/api/taxes/documents/generate-ticket/", got)
}

func TestCachedClient_ServesRepeatFromRedis(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdfBytes)
	}))
	defer srv.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	c := NewCached(New(config.ServiceConfig{BaseURL: srv.URL}), cache.New(rdb, time.Minute))

	first, err := c.Generate(context.Background(), sampleRequest(), "")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Generate(context.Background(), sampleRequest(), "")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, pdfBytes, second.Data)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCachedClient_DoesNotCacheFailures(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	c := NewCached(New(config.ServiceConfig{BaseURL: srv.URL}), cache.New(rdb, time.Minute))
	for i := 0; i < 2; i++ {
		_, err := c.Generate(context.Background(), sampleRequest(), "")
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.Empty(t, mrs.Keys())
}

func TestCachedClient_KeysEntriesByToken(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Authentication credentials were not provided."}`))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdfBytes)
	}))
	defer srv.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	c := NewCached(New(config.ServiceConfig{BaseURL: srv.URL}), cache.New(rdb, time.Minute))

	first, err := c.Generate(context.Background(), sampleRequest(), "good")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	for _, token := range []string{"", "revoked"} {
		_, err := c.Generate(context.Background(), sampleRequest(), token)
		var serverErr *domain.ServerError
		require.ErrorAs(t, err, &serverErr, "token %q", token)
		assert.Equal(t, http.StatusUnauthorized, serverErr.Status)
	}

	again, err := c.Generate(context.Background(), sampleRequest(), "good")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int32(3), hits.Load())
}
