package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kestrelcommerce/fulfillment-backend/api/responses"
	"github.com/kestrelcommerce/fulfillment-backend/api/validators"
	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/logger"
)

type adjustStockRequest struct {
	ProductID string  `json:"product_id" validate:"required,uuid4"`
	VariantID *string `json:"variant_id,omitempty" validate:"omitempty,uuid4"`
	Delta     int     `json:"delta" validate:"required"`
	Reason    string  `json:"reason" validate:"required"`
}

type stockLevelResponse struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID uuid.UUID `json:"variant_id,omitempty"`
	Qty       int       `json:"qty"`
}

// AdjustStock applies a manual stock correction and returns the new level.
func AdjustStock(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adjustStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := uuid.Parse(payload.ProductID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}
		variantID, err := optionalUUID(payload.VariantID, "variant id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		qty, err := svc.Adjust(r.Context(), inventory.AdjustInput{
			TenantID:  tenantID,
			ProductID: productID,
			VariantID: variantID,
			Delta:     payload.Delta,
			Reason:    validators.SanitizeString(payload.Reason, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, stockLevelResponse{
			ProductID: productID,
			VariantID: variantID,
			Qty:       qty,
		})
	}
}

// StockLevel returns the available quantity for one product or variant.
func StockLevel(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := uuidParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rawVariant := r.URL.Query().Get("variant_id")
		variantID, err := optionalUUID(&rawVariant, "variant id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		qty, err := svc.GetLevel(r.Context(), tenantID, productID, variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, stockLevelResponse{
			ProductID: productID,
			VariantID: variantID,
			Qty:       qty,
		})
	}
}
