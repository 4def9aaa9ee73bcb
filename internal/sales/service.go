package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/angelmondragon/cim-backend/internal/catalog"
	"github.com/angelmondragon/cim-backend/internal/inventory"
	"github.com/angelmondragon/cim-backend/pkg/db/models"
	"github.com/angelmondragon/cim-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	"github.com/angelmondragon/cim-backend/pkg/metrics"
	"github.com/angelmondragon/cim-backend/pkg/outbox"
	"github.com/angelmondragon/cim-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/cim-backend/pkg/pagination"
)

const tracerName = "github.com/angelmondragon/cim-backend/internal/sales"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type depletionLedger interface {
	ApplyDepletion(ctx context.Context, tx *gorm.DB, consumptions []inventory.Consumption) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service settles sales and serves the recorded ones.
type Service interface {
	Settle(ctx context.Context, input SettleInput) (uuid.UUID, error)
	GetSale(ctx context.Context, id uuid.UUID) (*SaleDetail, error)
	ListSales(ctx context.Context, params pagination.Params) (pagination.Page[SaleSummary], error)
}

// ServiceParams wires the settlement coordinator. Metrics, Logger and Tracer
// are optional.
type ServiceParams struct {
	Tx      txRunner
	Catalog *catalog.Repository
	Sales   *Repository
	Ledger  depletionLedger
	Outbox  outboxPublisher
	Metrics *metrics.SettlementMetrics
	Logger  *logger.Logger
	Tracer  trace.Tracer
	// Timeout bounds the whole unit of work. Zero means no bound beyond the
	// store's own.
	Timeout time.Duration
}

type service struct {
	tx      txRunner
	catalog *catalog.Repository
	sales   *Repository
	ledger  depletionLedger
	outbox  outboxPublisher
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	tracer  trace.Tracer
	timeout time.Duration
}

// NewService builds the settlement coordinator.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Sales == nil {
		return nil, fmt.Errorf("sales repository required")
	}
	if params.Ledger == nil {
		params.Ledger = inventory.NewLedger()
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Tracer == nil {
		params.Tracer = otel.Tracer(tracerName)
	}
	return &service{
		tx:      params.Tx,
		catalog: params.Catalog,
		sales:   params.Sales,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		tracer:  params.Tracer,
		timeout: params.Timeout,
	}, nil
}

// Settle records the sale and depletes its inventory in one unit of work.
// The outcome is either a committed sale with consistent stock or no change
// at all. Caller cancellation does not interrupt a settlement in flight; the
// configured timeout does.
func (s *service) Settle(ctx context.Context, input SettleInput) (uuid.UUID, error) {
	start := time.Now()
	ctx, cancel := s.settlementContext(ctx)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "sales.settle", trace.WithAttributes(
		attribute.String("operator.id", input.OperatorID.String()),
		attribute.String("sale.type", input.SaleType),
		attribute.Int("sale.product_lines", len(input.Products)),
		attribute.Int("sale.combo_lines", len(input.Combos)),
	))
	defer span.End()

	lc := newLifecycle(span)

	var saleID uuid.UUID
	err := validateSettleInput(input)
	if err == nil {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			id, err := s.settle(ctx, tx, lc, input)
			saleID = id
			return err
		})
	}
	if err != nil {
		err = storageFailure(err)
		lc.abort()
		s.recordAborted(ctx, span, lc, err, time.Since(start))
		return uuid.Nil, err
	}

	if err := lc.advance(StateCommitted); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settlement lifecycle")
	}
	s.recordCommitted(ctx, span, saleID, time.Since(start))
	return saleID, nil
}

func (s *service) settle(ctx context.Context, tx *gorm.DB, lc *lifecycle, input SettleInput) (uuid.UUID, error) {
	catalogRepo := s.catalog.WithTx(tx)
	salesRepo := s.sales.WithTx(tx)

	productLines, err := resolveProducts(ctx, catalogRepo, input.Products)
	if err != nil {
		return uuid.Nil, err
	}
	comboLines, err := NewExpander(catalogRepo).ExpandAll(ctx, input.Combos)
	if err != nil {
		return uuid.Nil, err
	}
	total, err := Aggregate(productLines, comboLines)
	if err != nil {
		return uuid.Nil, err
	}
	if err := lc.advance(StatePriced); err != nil {
		return uuid.Nil, err
	}

	sale := &models.Sale{
		OperatorID:  input.OperatorID,
		TotalAmount: total,
		SaleType:    strings.TrimSpace(input.SaleType),
		Profit:      input.Profit,
		Detail:      input.Detail,
		IsActive:    true,
	}
	if err := salesRepo.CreateSale(ctx, sale); err != nil {
		return uuid.Nil, err
	}

	lines := make([]ResolvedLine, 0, len(productLines)+len(comboLines))
	lines = append(lines, productLines...)
	lines = append(lines, comboLines...)

	items := make([]models.SaleLineItem, len(lines))
	consumptions := make([]inventory.Consumption, len(lines))
	for i, line := range lines {
		items[i] = models.SaleLineItem{
			SaleID:    sale.ID,
			ProductID: line.ProductID,
			ComboID:   line.ComboID,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
			Position:  i,
		}
		consumptions[i] = inventory.Consumption{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		}
	}
	if err := salesRepo.CreateLineItems(ctx, items); err != nil {
		return uuid.Nil, err
	}
	if err := s.ledger.ApplyDepletion(ctx, tx, consumptions); err != nil {
		return uuid.Nil, err
	}
	if err := lc.advance(StateDepleted); err != nil {
		return uuid.Nil, err
	}

	if err := s.outbox.Emit(ctx, tx, settledEvent(input, sale, lines)); err != nil {
		return uuid.Nil, err
	}
	return sale.ID, nil
}

func (s *service) GetSale(ctx context.Context, id uuid.UUID) (*SaleDetail, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id required")
	}
	sale, err := s.sales.FindSale(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := detailFromModel(*sale)
	return &detail, nil
}

func (s *service) ListSales(ctx context.Context, params pagination.Params) (pagination.Page[SaleSummary], error) {
	page, err := s.sales.ListSales(ctx, params)
	if err != nil {
		return pagination.Page[SaleSummary]{}, err
	}
	return pagination.Map(page, summaryFromModel), nil
}

func (s *service) settlementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)
	if s.timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, s.timeout)
}

func (s *service) recordCommitted(ctx context.Context, span trace.Span, saleID uuid.UUID, elapsed time.Duration) {
	span.SetAttributes(attribute.String("sale.id", saleID.String()))
	span.SetStatus(codes.Ok, "")
	s.metrics.ObserveCommitted(elapsed)
	if s.logg != nil {
		logCtx := s.logg.WithSaleID(ctx, saleID.String())
		logCtx = s.logg.WithField(logCtx, "duration_ms", elapsed.Milliseconds())
		s.logg.Info(logCtx, "settlement.committed")
	}
}

func (s *service) recordAborted(ctx context.Context, span trace.Span, lc *lifecycle, err error, elapsed time.Duration) {
	code := pkgerrors.As(err).Code()
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	span.SetAttributes(attribute.String("settlement.aborted_at", lc.reached.String()))
	s.metrics.ObserveAborted(elapsed, lc.reached.String(), string(code))
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"state":       lc.reached.String(),
			"error_code":  string(code),
			"error":       err.Error(),
			"duration_ms": elapsed.Milliseconds(),
		})
		s.logg.Warn(logCtx, "settlement.aborted")
	}
}

func validateSettleInput(input SettleInput) error {
	if input.OperatorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "operator id required")
	}
	if strings.TrimSpace(input.SaleType) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sale type required")
	}
	if len(input.Products) == 0 && len(input.Combos) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "sale requires at least one line item")
	}
	if !models.FitsScale(input.Profit, models.MoneyScale) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "profit allows at most %d decimal places", models.MoneyScale)
	}
	return nil
}

// storageFailure classifies untyped errors (driver, commit, deadline) as
// dependency failures. Typed errors pass through unchanged.
func storageFailure(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settlement storage failure")
}

func settledEvent(input SettleInput, sale *models.Sale, lines []ResolvedLine) outbox.DomainEvent {
	items := make([]payloads.SettledLineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, payloads.SettledLineItem{
			ProductID: line.ProductID,
			ComboID:   line.ComboID,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}
	role := ""
	if input.Role.IsValid() {
		role = input.Role.String()
	}
	return outbox.DomainEvent{
		EventType:     enums.EventSaleSettled,
		AggregateType: enums.AggregateSale,
		AggregateID:   sale.ID,
		Actor:         &outbox.ActorRef{UserID: input.OperatorID, Role: role},
		Data: payloads.SaleSettledEvent{
			SaleID:      sale.ID,
			OperatorID:  sale.OperatorID,
			SaleType:    sale.SaleType,
			TotalAmount: sale.TotalAmount,
			LineItems:   items,
		},
	}
}
