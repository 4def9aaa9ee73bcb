package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cim-backend/internal/inventory"
	"github.com/angelmondragon/cim-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
)

type stubInventoryService struct {
	input *inventory.RestockInput
	err   error
}

func (s *stubInventoryService) Restock(ctx context.Context, input inventory.RestockInput) (*inventory.RestockResult, error) {
	s.input = &input
	if s.err != nil {
		return nil, s.err
	}
	return &inventory.RestockResult{ProductID: input.ProductID, AvailableWeight: decimal.NewFromInt(15)}, nil
}

func TestRestockProduct(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	operatorID := uuid.New()
	svc := &stubInventoryService{}
	router := chi.NewRouter()
	router.Post("/api/admin/v1/products/{productId}/restock", RestockProduct(svc, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, operatorRequest(http.MethodPost, "/api/admin/v1/products/"+productID.String()+"/restock", `{"quantity":"5"}`, operatorID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.input == nil || svc.input.ProductID != productID || svc.input.OperatorID != operatorID {
		t.Fatalf("unexpected input %+v", svc.input)
	}
	if !svc.input.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected quantity %s", svc.input.Quantity)
	}

	svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, operatorRequest(http.MethodPost, "/api/admin/v1/products/"+productID.String()+"/restock", `{"quantity":"5"}`, operatorID))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"db": stubPinger{}}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"redis": stubPinger{err: errors.New("down")}}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-CIM-Env") != "test" {
		t.Fatalf("unexpected live response %d", rec.Code)
	}
}
