package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cim-backend/api/responses"
	"github.com/angelmondragon/cim-backend/api/validators"
	"github.com/angelmondragon/cim-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/logger"
)

type restockRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"decimal_gt0"`
}

// RestockProduct adds weight to a product's available stock.
func RestockProduct(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		operator, err := operatorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "productId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}

		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Restock(r.Context(), inventory.RestockInput{
			ProductID:  productID,
			Quantity:   payload.Quantity,
			OperatorID: operator.UserID,
			Role:       operator.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
