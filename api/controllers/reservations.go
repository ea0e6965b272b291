package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/api/responses"
	"github.com/kestrelcommerce/fulfillment-backend/api/validators"
	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/internal/reservations"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/logger"
)

// txRunner opens the unit of work a reservation transition commits in.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// reservationFinder resolves the path id to the reservation's order.
type reservationFinder interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*models.InventoryReservation, error)
}

type reservationLineRequest struct {
	ProductID string  `json:"product_id" validate:"required,uuid4"`
	VariantID *string `json:"variant_id,omitempty" validate:"omitempty,uuid4"`
	Qty       int     `json:"qty" validate:"required,min=1"`
}

type createReservationRequest struct {
	OrderID string                   `json:"order_id" validate:"required,uuid4"`
	Lines   []reservationLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateReservation places a hold against stock for an order.
func CreateReservation(db txRunner, svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservations service unavailable"))
			return
		}

		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createReservationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := uuid.Parse(payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		lines := make([]inventory.Line, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			productID, err := uuid.Parse(line.ProductID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
				return
			}
			variantID, err := optionalUUID(line.VariantID, "variant id")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			lines = append(lines, inventory.Line{
				ProductID: productID,
				VariantID: variantID,
				Qty:       line.Qty,
			})
		}

		var reservation *models.InventoryReservation
		err = db.WithTx(r.Context(), func(tx *gorm.DB) error {
			created, err := svc.Reserve(r.Context(), tx, reservations.ReserveInput{
				TenantID: tenantID,
				OrderID:  orderID,
				Lines:    lines,
			})
			if err != nil {
				return err
			}
			reservation = created
			return nil
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, reservation)
	}
}

// ConfirmReservation deducts stock for a held reservation.
func ConfirmReservation(db txRunner, svc reservations.Service, finder reservationFinder, logg *logger.Logger) http.HandlerFunc {
	return transitionReservation(db, finder, logg, svc.Confirm)
}

// ReleaseReservation returns a held reservation without touching stock.
func ReleaseReservation(db txRunner, svc reservations.Service, finder reservationFinder, logg *logger.Logger) http.HandlerFunc {
	return transitionReservation(db, finder, logg, svc.Release)
}

func transitionReservation(
	db txRunner,
	finder reservationFinder,
	logg *logger.Logger,
	transition func(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil || finder == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservations service unavailable"))
			return
		}

		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reservationID, err := uuidParam(r, "reservationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = db.WithTx(r.Context(), func(tx *gorm.DB) error {
			reservation, err := finder.FindByID(r.Context(), tenantID, reservationID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
			}
			return transition(r.Context(), tx, tenantID, reservation.OrderID)
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
