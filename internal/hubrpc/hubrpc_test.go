package hubrpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/config"
	"github.com/atlas-desktop/fx-scalper/internal/hub"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

func newTestServer(token string) (*Server, *hub.Hub) {
	logger := zap.NewNop()
	h := hub.New(logger, config.DefaultHubConfig(), nil)
	cfg := config.DefaultHubRPCConfig()
	cfg.BearerToken = token
	return New(logger, cfg, h), h
}

func TestUnauthenticatedRequestRejectedWhenTokenConfigured(t *testing.T) {
	s, _ := newTestServer("secret-token")
	req := httptest.NewRequest(http.MethodGet, "/hub/tick/EUR_USD", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticatedRequestServesLatestTick(t *testing.T) {
	s, h := newTestServer("secret-token")
	h.UpdateTick(types.Tick{Instrument: "EUR_USD", EventTime: time.Now().UTC(), Bid: decimal.NewFromFloat(1.085), Ask: decimal.NewFromFloat(1.0852)})

	req := httptest.NewRequest(http.MethodGet, "/hub/tick/EUR_USD", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got types.Tick
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Instrument != "EUR_USD" {
		t.Fatalf("expected EUR_USD, got %s", got.Instrument)
	}
}

func TestEmptyConfiguredTokenDisablesAuth(t *testing.T) {
	s, h := newTestServer("")
	h.UpdateTick(types.Tick{Instrument: "GBP_USD", EventTime: time.Now().UTC(), Bid: decimal.NewFromFloat(1.27), Ask: decimal.NewFromFloat(1.2702)})

	req := httptest.NewRequest(http.MethodGet, "/hub/tick/GBP_USD", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}

func TestPostTickUpdatesHub(t *testing.T) {
	s, h := newTestServer("secret-token")
	body, _ := json.Marshal(types.Tick{Instrument: "USD_JPY", EventTime: time.Now().UTC(), Bid: decimal.NewFromFloat(150.1), Ask: decimal.NewFromFloat(150.12)})

	req := httptest.NewRequest(http.MethodPost, "/hub/tick", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, ok := h.GetLatestTick("USD_JPY"); !ok {
		t.Fatalf("expected hub to be updated via the RPC surface")
	}
}

func TestGetTickMissingInstrumentReturns404(t *testing.T) {
	s, _ := newTestServer("secret-token")
	req := httptest.NewRequest(http.MethodGet, "/hub/tick/XXX_YYY", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
