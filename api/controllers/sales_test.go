package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cim-backend/api/middleware"
	"github.com/angelmondragon/cim-backend/internal/sales"
	"github.com/angelmondragon/cim-backend/pkg/auth"
	"github.com/angelmondragon/cim-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/pagination"
)

type stubSalesService struct {
	saleID uuid.UUID
	err    error
	input  *sales.SettleInput
	params *pagination.Params
	detail *sales.SaleDetail
}

func (s *stubSalesService) Settle(ctx context.Context, input sales.SettleInput) (uuid.UUID, error) {
	s.input = &input
	return s.saleID, s.err
}

func (s *stubSalesService) GetSale(ctx context.Context, id uuid.UUID) (*sales.SaleDetail, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.detail, nil
}

func (s *stubSalesService) ListSales(ctx context.Context, params pagination.Params) (pagination.Page[sales.SaleSummary], error) {
	s.params = &params
	return pagination.Page[sales.SaleSummary]{Items: []sales.SaleSummary{}}, s.err
}

func operatorRequest(method, target, body string, operatorID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithOperator(req.Context(), auth.Identity{UserID: operatorID, Role: enums.OperatorRoleCashier}))
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

func TestSettleSaleSuccess(t *testing.T) {
	t.Parallel()

	operatorID := uuid.New()
	productID := uuid.New()
	comboID := uuid.New()
	svc := &stubSalesService{saleID: uuid.New()}

	body := `{"sale_type":" retail ","profit":"12.5","detail":"walk-in",` +
		`"products":[{"product_id":"` + productID.String() + `","quantity":10,"subtotal":"50.00"}],` +
		`"combos":[{"combo_id":"` + comboID.String() + `","quantity":"3"}]}`
	rec := httptest.NewRecorder()
	SettleSale(svc, nil).ServeHTTP(rec, operatorRequest(http.MethodPost, "/api/v1/sales", body, operatorID))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data settleSaleResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.SaleID != svc.saleID {
		t.Fatalf("expected sale id %s got %s", svc.saleID, resp.Data.SaleID)
	}

	in := svc.input
	if in == nil {
		t.Fatal("service not called")
	}
	if in.OperatorID != operatorID || in.Role != enums.OperatorRoleCashier {
		t.Fatalf("unexpected principal %s/%s", in.OperatorID, in.Role)
	}
	if in.SaleType != "retail" {
		t.Fatalf("expected trimmed sale type, got %q", in.SaleType)
	}
	if len(in.Products) != 1 || !in.Products[0].Subtotal.Equal(decimal.NewFromInt(50)) || !in.Products[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected product lines %+v", in.Products)
	}
	if len(in.Combos) != 1 || in.Combos[0].ComboID != comboID || !in.Combos[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected combo lines %+v", in.Combos)
	}
	if in.Detail == nil || *in.Detail != "walk-in" {
		t.Fatalf("unexpected detail %v", in.Detail)
	}
}

func TestSettleSaleRejectsBadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		code pkgerrors.Code
	}{
		{name: "malformed json", body: `{`, code: pkgerrors.CodeValidation},
		{name: "unknown field", body: `{"sale_type":"retail","products":[],"extra":1}`, code: pkgerrors.CodeValidation},
		{name: "missing sale type", body: `{"products":[{"product_id":"` + uuid.NewString() + `","quantity":1,"subtotal":1}]}`, code: pkgerrors.CodeValidation},
		{name: "no line collections", body: `{"sale_type":"retail"}`, code: pkgerrors.CodeValidation},
		{name: "missing product id", body: `{"sale_type":"retail","products":[{"quantity":1,"subtotal":1}]}`, code: pkgerrors.CodeValidation},
		{name: "zero quantity", body: `{"sale_type":"retail","products":[{"product_id":"` + uuid.NewString() + `","quantity":"0","subtotal":1}]}`, code: pkgerrors.CodeValidation},
		{name: "negative subtotal", body: `{"sale_type":"retail","products":[{"product_id":"` + uuid.NewString() + `","quantity":1,"subtotal":"-1"}]}`, code: pkgerrors.CodeValidation},
		{name: "negative combo quantity", body: `{"sale_type":"retail","combos":[{"combo_id":"` + uuid.NewString() + `","quantity":"-2"}]}`, code: pkgerrors.CodeValidation},
		{name: "trailing object", body: `{"sale_type":"retail","combos":[{"combo_id":"` + uuid.NewString() + `","quantity":1}]}{}`, code: pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubSalesService{}
			rec := httptest.NewRecorder()
			SettleSale(svc, nil).ServeHTTP(rec, operatorRequest(http.MethodPost, "/api/v1/sales", tc.body, uuid.New()))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
			}
			if got := decodeErrorCode(t, rec); got != string(tc.code) {
				t.Fatalf("expected %s got %s", tc.code, got)
			}
			if svc.input != nil {
				t.Fatal("service must not be called")
			}
		})
	}
}

func TestSettleSaleSurfacesInsufficientStock(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	svc := &stubSalesService{err: pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{"product_id": productID.String()})}
	body := `{"sale_type":"retail","products":[{"product_id":"` + productID.String() + `","quantity":1,"subtotal":5}]}`

	rec := httptest.NewRecorder()
	SettleSale(svc, nil).ServeHTTP(rec, operatorRequest(http.MethodPost, "/api/v1/sales", body, uuid.New()))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), productID.String()) {
		t.Fatalf("expected limiting product in body: %s", rec.Body.String())
	}
}

func TestSettleSaleRequiresOperator(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	SettleSale(&stubSalesService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestListSalesParsesPagination(t *testing.T) {
	t.Parallel()

	svc := &stubSalesService{}
	rec := httptest.NewRecorder()
	ListSales(svc, nil).ServeHTTP(rec, operatorRequest(http.MethodGet, "/api/v1/sales?limit=5&cursor=abc", "", uuid.New()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.params == nil || svc.params.Limit != 5 || svc.params.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.params)
	}

	rec = httptest.NewRecorder()
	ListSales(svc, nil).ServeHTTP(rec, operatorRequest(http.MethodGet, "/api/v1/sales?limit=1000", "", uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range limit, got %d", rec.Code)
	}
}

func TestGetSale(t *testing.T) {
	t.Parallel()

	saleID := uuid.New()
	svc := &stubSalesService{detail: &sales.SaleDetail{SaleSummary: sales.SaleSummary{ID: saleID}}}

	router := chi.NewRouter()
	router.Get("/api/v1/sales/{saleId}", GetSale(svc, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, operatorRequest(http.MethodGet, "/api/v1/sales/"+saleID.String(), "", uuid.New()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), saleID.String()) {
		t.Fatalf("expected sale id in body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, operatorRequest(http.MethodGet, "/api/v1/sales/not-a-uuid", "", uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, operatorRequest(http.MethodGet, "/api/v1/sales/"+saleID.String(), "", uuid.New()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
