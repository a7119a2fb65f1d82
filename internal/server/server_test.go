package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/flashmarket/internal/domain"
	"github.com/alanyoungcy/flashmarket/internal/server/handler"
)

type stubMarketStore struct{}

func (stubMarketStore) Create(context.Context, domain.Market) error { return nil }
func (stubMarketStore) GetByID(context.Context, common.Hash) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (stubMarketStore) Update(context.Context, domain.Market) error { return nil }
func (stubMarketStore) ListByOutcome(context.Context, domain.Outcome, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (stubMarketStore) ListResolvable(context.Context, int64, int) ([]domain.Market, error) {
	return nil, nil
}
func (stubMarketStore) Count(context.Context) (int64, error) { return 0, nil }

type stubAuditStore struct{}

func (stubAuditStore) Log(context.Context, string, map[string]any) error { return nil }
func (stubAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestServer(apiKey string) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(logger),
		Markets: handler.NewMarketHandler(nil, stubMarketStore{}, logger),
		Audit:   handler.NewAuditHandler(stubAuditStore{}, logger),
	}, nil, logger)
	return srv.httpServer.Handler
}

func do(h http.Handler, method, path, apiKey string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		r.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestRoutes_PublicReadsBypassOperatorKey(t *testing.T) {
	h := newTestServer("s3cret")

	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/health", "").Code)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/markets", "").Code)
}

func TestRoutes_AuditRequiresOperatorKey(t *testing.T) {
	h := newTestServer("s3cret")

	assert.Equal(t, http.StatusUnauthorized, do(h, "GET", "/api/audit", "").Code)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/audit", "s3cret").Code)
}

func TestRoutes_ResolveRequiresOperatorKey(t *testing.T) {
	h := newTestServer("s3cret")

	id := common.HexToHash("0x01").Hex()
	rec := do(h, "POST", "/api/markets/"+id+"/resolve", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutes_NoKeyConfiguredLeavesAuditOpen(t *testing.T) {
	h := newTestServer("")

	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/audit", "").Code)
}
