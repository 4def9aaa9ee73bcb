package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cim-backend/api/middleware"
	"github.com/angelmondragon/cim-backend/api/responses"
	"github.com/angelmondragon/cim-backend/api/validators"
	"github.com/angelmondragon/cim-backend/internal/sales"
	"github.com/angelmondragon/cim-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/logger"
)

const (
	maxSaleTypeLength = 50
	maxDetailLength   = 500
)

type settleSaleRequest struct {
	SaleType string               `json:"sale_type" validate:"required,max=50"`
	Profit   decimal.Decimal      `json:"profit"`
	Detail   *string              `json:"detail,omitempty" validate:"omitempty,max=500"`
	Products []saleProductRequest `json:"products" validate:"required_without=Combos,dive"`
	Combos   []saleComboRequest   `json:"combos" validate:"required_without=Products,dive"`
}

type saleProductRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"decimal_gt0"`
	Subtotal  decimal.Decimal `json:"subtotal" validate:"decimal_gte0"`
}

type saleComboRequest struct {
	ComboID  uuid.UUID       `json:"combo_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"decimal_gt0"`
}

type settleSaleResponse struct {
	SaleID uuid.UUID `json:"sale_id"`
}

// SettleSale records a sale for the authenticated operator.
func SettleSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		operator, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload settleSaleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		saleID, err := svc.Settle(r.Context(), payload.toInput(operator))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, settleSaleResponse{SaleID: saleID})
	}
}

// ListSales returns recorded sales newest first.
func ListSales(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListSales(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, page)
	}
}

// GetSale returns one sale with its line items.
func GetSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		saleID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "saleId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid sale id"))
			return
		}

		detail, err := svc.GetSale(r.Context(), saleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, detail)
	}
}

func (p settleSaleRequest) toInput(operator auth.Identity) sales.SettleInput {
	input := sales.SettleInput{
		OperatorID: operator.UserID,
		Role:       operator.Role,
		SaleType:   validators.SanitizeString(p.SaleType, maxSaleTypeLength),
		Profit:     p.Profit,
	}
	if p.Detail != nil {
		detail := validators.SanitizeString(*p.Detail, maxDetailLength)
		if detail != "" {
			input.Detail = &detail
		}
	}
	for _, line := range p.Products {
		input.Products = append(input.Products, sales.ProductLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}
	for _, line := range p.Combos {
		input.Combos = append(input.Combos, sales.ComboLine{
			ComboID:  line.ComboID,
			Quantity: line.Quantity,
		})
	}
	return input
}

func operatorFromRequest(r *http.Request) (auth.Identity, error) {
	operator, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		return auth.Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity missing")
	}
	return operator, nil
}
