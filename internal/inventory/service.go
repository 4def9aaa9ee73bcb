package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/cim-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	"github.com/angelmondragon/cim-backend/pkg/outbox"
	"github.com/angelmondragon/cim-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes stock operations that run in their own unit of work.
type Service interface {
	Restock(ctx context.Context, input RestockInput) (*RestockResult, error)
}

// RestockInput adds Quantity to a product's available weight on behalf of
// an operator.
type RestockInput struct {
	ProductID  uuid.UUID
	Quantity   decimal.Decimal
	OperatorID uuid.UUID
	Role       enums.OperatorRole
}

type RestockResult struct {
	ProductID       uuid.UUID       `json:"product_id"`
	AvailableWeight decimal.Decimal `json:"available_weight"`
}

type service struct {
	tx     txRunner
	ledger *Ledger
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService builds the restock service.
func NewService(tx txRunner, ledger *Ledger, publisher outboxPublisher, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ledger == nil {
		ledger = NewLedger()
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{tx: tx, ledger: ledger, outbox: publisher, logg: logg}, nil
}

func (s *service) Restock(ctx context.Context, input RestockInput) (*RestockResult, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}

	var result RestockResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		weight, err := s.ledger.Restock(ctx, tx, input.ProductID, input.Quantity)
		if err != nil {
			return err
		}
		result = RestockResult{ProductID: input.ProductID, AvailableWeight: weight}

		event := outbox.DomainEvent{
			EventType:     enums.EventProductRestocked,
			AggregateType: enums.AggregateProduct,
			AggregateID:   input.ProductID,
			Data: payloads.ProductRestockedEvent{
				ProductID:       input.ProductID,
				Quantity:        input.Quantity,
				AvailableWeight: weight,
			},
		}
		if input.OperatorID != uuid.Nil {
			event.Actor = &outbox.ActorRef{UserID: input.OperatorID, Role: input.Role.String()}
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock")
		}
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id":       input.ProductID.String(),
			"quantity":         input.Quantity.String(),
			"available_weight": result.AvailableWeight.String(),
		})
		s.logg.Info(logCtx, "inventory.restocked")
	}
	return &result, nil
}
