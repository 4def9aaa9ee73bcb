package sales

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/gorm"

	"github.com/angelmondragon/cim-backend/internal/catalog"
	dbpkg "github.com/angelmondragon/cim-backend/pkg/db"
	"github.com/angelmondragon/cim-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cim-backend/pkg/db/models"
	"github.com/angelmondragon/cim-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	"github.com/angelmondragon/cim-backend/pkg/metrics"
	"github.com/angelmondragon/cim-backend/pkg/outbox"
	"github.com/angelmondragon/cim-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/cim-backend/pkg/pagination"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	registry *prometheus.Registry
	spans    *tracetest.SpanRecorder
	logs     *lockedBuffer
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	db := dbtest.Open(t, name)
	registry := prometheus.NewRegistry()
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	logs := &lockedBuffer{}
	logg := logger.New(logger.Options{ServiceName: "sales-test", Level: logger.ParseLevel("debug"), Output: logs})

	svc, err := NewService(ServiceParams{
		Tx:      dbpkg.NewFromConn(db),
		Catalog: catalog.NewRepository(db),
		Sales:   NewRepository(db),
		Outbox:  outbox.NewService(outbox.NewRepository(db), logg),
		Metrics: metrics.NewSettlementMetrics(registry),
		Logger:  logg,
		Tracer:  provider.Tracer("sales-test"),
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	return &fixture{db: db, svc: svc, registry: registry, spans: spans, logs: logs}
}

func cashierInput(products []ProductLine, combos []ComboLine) SettleInput {
	detail := "counter sale"
	return SettleInput{
		OperatorID: uuid.New(),
		Role:       enums.OperatorRoleCashier,
		SaleType:   "retail",
		Profit:     dec("12.50"),
		Detail:     &detail,
		Products:   products,
		Combos:     combos,
	}
}

type tableSnapshot struct {
	Stock     map[uuid.UUID]string
	Sales     int64
	LineItems int64
	Events    int64
}

func snapshot(t *testing.T, db *gorm.DB) tableSnapshot {
	t.Helper()
	var products []models.Product
	require.NoError(t, db.Order("id").Find(&products).Error)
	stock := make(map[uuid.UUID]string, len(products))
	for _, p := range products {
		stock[p.ID] = p.AvailableWeight.String() + "|" + p.UpdatedAt.String()
	}
	return tableSnapshot{
		Stock:     stock,
		Sales:     dbtest.Count(t, db, &models.Sale{}),
		LineItems: dbtest.Count(t, db, &models.SaleLineItem{}),
		Events:    dbtest.Count(t, db, &models.OutboxEvent{}),
	}
}

func TestSettleProductLine(t *testing.T) {
	f := newFixture(t, "settle_product")
	p := dbtest.SeedProduct(t, f.db, "P", "100", "5")

	saleID, err := f.svc.Settle(context.Background(), cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("10"), Subtotal: dec("50")}}, nil,
	))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, saleID)

	detail, err := f.svc.GetSale(context.Background(), saleID)
	require.NoError(t, err)
	require.True(t, detail.TotalAmount.Equal(dec("50")), "got %s", detail.TotalAmount)
	require.True(t, detail.Profit.Equal(dec("12.5")))
	require.Equal(t, "retail", detail.SaleType)
	require.Len(t, detail.LineItems, 1)
	require.Equal(t, "P", detail.LineItems[0].ProductName)
	require.Nil(t, detail.LineItems[0].ComboID)

	require.True(t, dbtest.Stock(t, f.db, p.ID).Equal(dec("90")))
}

func TestSettleComboUsesComponentPricing(t *testing.T) {
	f := newFixture(t, "settle_combo")
	p := dbtest.SeedProduct(t, f.db, "P", "100", "5")
	q := dbtest.SeedProduct(t, f.db, "Q", "100", "7")
	combo := dbtest.SeedCombo(t, f.db, "C", "20",
		dbtest.Component{ProductID: p.ID, Quantity: "2"},
		dbtest.Component{ProductID: q.ID, Quantity: "1"},
	)

	saleID, err := f.svc.Settle(context.Background(), cashierInput(nil,
		[]ComboLine{{ComboID: combo.ID, Quantity: dec("3")}},
	))
	require.NoError(t, err)

	detail, err := f.svc.GetSale(context.Background(), saleID)
	require.NoError(t, err)
	// 6 x 5 + 3 x 7, not the combo's listed price
	require.True(t, detail.TotalAmount.Equal(dec("51")), "got %s", detail.TotalAmount)
	require.Len(t, detail.LineItems, 2)
	require.Equal(t, p.ID, detail.LineItems[0].ProductID)
	require.True(t, detail.LineItems[0].Quantity.Equal(dec("6")))
	require.True(t, detail.LineItems[0].Subtotal.Equal(dec("30")))
	require.Equal(t, combo.ID, *detail.LineItems[0].ComboID)
	require.Equal(t, q.ID, detail.LineItems[1].ProductID)
	require.True(t, detail.LineItems[1].Quantity.Equal(dec("3")))

	require.True(t, dbtest.Stock(t, f.db, p.ID).Equal(dec("94")))
	require.True(t, dbtest.Stock(t, f.db, q.ID).Equal(dec("97")))
}

func TestSettleTotalMatchesStoredSubtotals(t *testing.T) {
	f := newFixture(t, "settle_fractional_cents")
	p := dbtest.SeedProduct(t, f.db, "P", "100", "5")
	q := dbtest.SeedProduct(t, f.db, "Q", "100", "1.99")
	combo := dbtest.SeedCombo(t, f.db, "C", "1", dbtest.Component{ProductID: q.ID, Quantity: "0.125"})

	saleID, err := f.svc.Settle(context.Background(), cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("2"), Subtotal: dec("9.99")}},
		[]ComboLine{{ComboID: combo.ID, Quantity: dec("1")}, {ComboID: combo.ID, Quantity: dec("1")}},
	))
	require.NoError(t, err)

	detail, err := f.svc.GetSale(context.Background(), saleID)
	require.NoError(t, err)
	// 9.99 + 2 x round(0.24875)
	require.True(t, detail.TotalAmount.Equal(dec("10.49")), "got %s", detail.TotalAmount)
	require.Len(t, detail.LineItems, 3)
	sum := decimal.Zero
	for _, line := range detail.LineItems {
		require.True(t, models.FitsScale(line.Subtotal, models.MoneyScale), "subtotal %s", line.Subtotal)
		require.True(t, models.FitsScale(line.Quantity, models.QuantityScale), "quantity %s", line.Quantity)
		sum = sum.Add(line.Subtotal)
	}
	require.True(t, sum.Equal(detail.TotalAmount))
	require.True(t, dbtest.Stock(t, f.db, q.ID).Equal(dec("99.75")))
}

func TestSettleMixedLinesAgainstSameProduct(t *testing.T) {
	f := newFixture(t, "settle_mixed")
	p := dbtest.SeedProduct(t, f.db, "P", "20", "5")
	q := dbtest.SeedProduct(t, f.db, "Q", "20", "7")
	first := dbtest.SeedCombo(t, f.db, "C1", "9", dbtest.Component{ProductID: p.ID, Quantity: "2"})
	second := dbtest.SeedCombo(t, f.db, "C2", "9",
		dbtest.Component{ProductID: p.ID, Quantity: "1"},
		dbtest.Component{ProductID: q.ID, Quantity: "1"},
	)

	saleID, err := f.svc.Settle(context.Background(), cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("3"), Subtotal: dec("14")}},
		[]ComboLine{
			{ComboID: first.ID, Quantity: dec("1")},
			{ComboID: second.ID, Quantity: dec("2")},
		},
	))
	require.NoError(t, err)

	detail, err := f.svc.GetSale(context.Background(), saleID)
	require.NoError(t, err)
	require.Len(t, detail.LineItems, 4)
	var pLines int
	for _, item := range detail.LineItems {
		if item.ProductID == p.ID {
			pLines++
		}
	}
	require.Equal(t, 3, pLines, "occurrences of the same product are never merged")
	// 14 + 2x5 + 2x5 + 2x7
	require.True(t, detail.TotalAmount.Equal(dec("48")), "got %s", detail.TotalAmount)
	require.True(t, dbtest.Stock(t, f.db, p.ID).Equal(dec("13")))
	require.True(t, dbtest.Stock(t, f.db, q.ID).Equal(dec("18")))
}

func TestSettleInsufficientComponentRollsBackEverything(t *testing.T) {
	f := newFixture(t, "settle_insufficient")
	p := dbtest.SeedProduct(t, f.db, "P", "100", "5")
	q := dbtest.SeedProduct(t, f.db, "Q", "2", "7")
	combo := dbtest.SeedCombo(t, f.db, "C", "20",
		dbtest.Component{ProductID: p.ID, Quantity: "2"},
		dbtest.Component{ProductID: q.ID, Quantity: "1"},
	)
	before := snapshot(t, f.db)

	saleID, err := f.svc.Settle(context.Background(), cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("1"), Subtotal: dec("5")}},
		[]ComboLine{{ComboID: combo.ID, Quantity: dec("3")}},
	))
	require.Equal(t, uuid.Nil, saleID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "unexpected error %v", err)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	require.Equal(t, q.ID.String(), details["product_id"])

	require.Equal(t, before, snapshot(t, f.db))
}

func TestSettleFailuresLeaveTablesUntouched(t *testing.T) {
	f := newFixture(t, "settle_failures")
	p := dbtest.SeedProduct(t, f.db, "P", "10", "5")
	retired := dbtest.SeedProduct(t, f.db, "Retired", "10", "5", dbtest.Inactive())
	combo := dbtest.SeedCombo(t, f.db, "C", "9", dbtest.Component{ProductID: p.ID, Quantity: "1"})
	dead := dbtest.SeedCombo(t, f.db, "Dead", "9", dbtest.Component{ProductID: p.ID, Quantity: "1"})
	dbtest.DeactivateCombo(t, f.db, dead.ID)

	cases := []struct {
		name  string
		input SettleInput
		code  pkgerrors.Code
	}{
		{
			name:  "no lines",
			input: cashierInput(nil, nil),
			code:  pkgerrors.CodeValidation,
		},
		{
			name: "missing operator",
			input: SettleInput{SaleType: "retail", Products: []ProductLine{
				{ProductID: p.ID, Quantity: dec("1"), Subtotal: dec("5")},
			}},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "non-positive product quantity",
			input: cashierInput([]ProductLine{
				{ProductID: p.ID, Quantity: dec("0"), Subtotal: dec("0")},
			}, nil),
			code: pkgerrors.CodeValidation,
		},
		{
			name: "non-positive combo quantity",
			input: cashierInput(nil, []ComboLine{
				{ComboID: combo.ID, Quantity: dec("-2")},
			}),
			code: pkgerrors.CodeValidation,
		},
		{
			name: "product line finer than column scale",
			input: cashierInput([]ProductLine{
				{ProductID: p.ID, Quantity: dec("0.0004"), Subtotal: dec("0.005")},
			}, []ComboLine{{ComboID: combo.ID, Quantity: dec("1")}}),
			code: pkgerrors.CodeValidation,
		},
		{
			name: "profit finer than cents",
			input: func() SettleInput {
				in := cashierInput([]ProductLine{{ProductID: p.ID, Quantity: dec("1"), Subtotal: dec("5")}}, nil)
				in.Profit = dec("1.001")
				return in
			}(),
			code: pkgerrors.CodeValidation,
		},
		{
			name: "unknown product",
			input: cashierInput([]ProductLine{
				{ProductID: uuid.New(), Quantity: dec("1"), Subtotal: dec("5")},
			}, nil),
			code: pkgerrors.CodeNotFound,
		},
		{
			name: "inactive product",
			input: cashierInput([]ProductLine{
				{ProductID: retired.ID, Quantity: dec("1"), Subtotal: dec("5")},
			}, nil),
			code: pkgerrors.CodeNotFound,
		},
		{
			name: "inactive combo",
			input: cashierInput([]ProductLine{
				{ProductID: p.ID, Quantity: dec("1"), Subtotal: dec("5")},
			}, []ComboLine{{ComboID: dead.ID, Quantity: dec("1")}}),
			code: pkgerrors.CodeNotFound,
		},
		{
			name: "same product oversold across lines",
			input: cashierInput([]ProductLine{
				{ProductID: p.ID, Quantity: dec("6"), Subtotal: dec("30")},
			}, []ComboLine{{ComboID: combo.ID, Quantity: dec("5")}}),
			code: pkgerrors.CodeInsufficientStock,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := snapshot(t, f.db)
			saleID, err := f.svc.Settle(context.Background(), tc.input)
			require.Equal(t, uuid.Nil, saleID)
			require.True(t, pkgerrors.IsCode(err, tc.code), "unexpected error %v", err)
			require.Equal(t, before, snapshot(t, f.db))
		})
	}
}

func TestSettleConcurrentOversellExactlyOneWins(t *testing.T) {
	f := newFixture(t, "settle_concurrent")
	p := dbtest.SeedProduct(t, f.db, "P", "10", "5")

	const workers = 2
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Settle(context.Background(), cashierInput(
				[]ProductLine{{ProductID: p.ID, Quantity: dec("6"), Subtotal: dec("30")}}, nil,
			))
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, insufficient)
	require.True(t, dbtest.Stock(t, f.db, p.ID).Equal(dec("4")))
	require.EqualValues(t, 1, dbtest.Count(t, f.db, &models.Sale{}))
}

func TestSettleSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, "settle_cancel")
	p := dbtest.SeedProduct(t, f.db, "P", "10", "5")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	saleID, err := f.svc.Settle(ctx, cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("1"), Subtotal: dec("5")}}, nil,
	))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, saleID)
	require.True(t, dbtest.Stock(t, f.db, p.ID).Equal(dec("9")))
}

func TestSettleEmitsSaleSettledEvent(t *testing.T) {
	f := newFixture(t, "settle_outbox")
	p := dbtest.SeedProduct(t, f.db, "P", "10", "5")
	combo := dbtest.SeedCombo(t, f.db, "C", "9", dbtest.Component{ProductID: p.ID, Quantity: "1"})

	input := cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("1"), Subtotal: dec("5")}},
		[]ComboLine{{ComboID: combo.ID, Quantity: dec("2")}},
	)
	saleID, err := f.svc.Settle(context.Background(), input)
	require.NoError(t, err)

	var events []models.OutboxEvent
	require.NoError(t, f.db.Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, enums.EventSaleSettled, events[0].EventType)
	require.Equal(t, enums.AggregateSale, events[0].AggregateType)
	require.Equal(t, saleID, events[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	require.NotNil(t, envelope.Actor)
	require.Equal(t, input.OperatorID, envelope.Actor.UserID)
	require.Equal(t, "cashier", envelope.Actor.Role)

	var payload payloads.SaleSettledEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	require.Equal(t, saleID, payload.SaleID)
	require.True(t, payload.TotalAmount.Equal(dec("15")))
	require.Len(t, payload.LineItems, 2)
	require.Nil(t, payload.LineItems[0].ComboID)
	require.Equal(t, combo.ID, *payload.LineItems[1].ComboID)
}

func TestSettleObservability(t *testing.T) {
	f := newFixture(t, "settle_observability")
	p := dbtest.SeedProduct(t, f.db, "P", "10", "5")

	_, err := f.svc.Settle(context.Background(), cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("4"), Subtotal: dec("20")}}, nil,
	))
	require.NoError(t, err)
	_, err = f.svc.Settle(context.Background(), cashierInput(
		[]ProductLine{{ProductID: p.ID, Quantity: dec("7"), Subtotal: dec("35")}}, nil,
	))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	ended := f.spans.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, "sales.settle", ended[0].Name())
	require.Equal(t, codes.Ok, ended[0].Status().Code)
	require.Equal(t, []string{"settlement.opened", "settlement.priced", "settlement.depleted", "settlement.committed"}, eventNames(ended[0]))
	require.Equal(t, codes.Error, ended[1].Status().Code)
	require.Equal(t, string(pkgerrors.CodeInsufficientStock), ended[1].Status().Description)
	require.Equal(t, []string{"settlement.opened", "settlement.priced", "settlement.aborted", "exception"}, eventNames(ended[1]))

	mfs, err := f.registry.Gather()
	require.NoError(t, err)
	require.Equal(t, 1.0, counterValue(t, mfs, "settlement_total", map[string]string{"outcome": metrics.OutcomeCommitted}))
	require.Equal(t, 1.0, counterValue(t, mfs, "settlement_total", map[string]string{"outcome": metrics.OutcomeAborted}))
	require.Equal(t, 1.0, counterValue(t, mfs, "settlement_aborted_total", map[string]string{
		"state": string(StatePriced),
		"code":  string(pkgerrors.CodeInsufficientStock),
	}))

	logs := f.logs.String()
	require.Contains(t, logs, `"message":"settlement.committed"`)
	require.Contains(t, logs, `"message":"settlement.aborted"`)
	require.Contains(t, logs, `"error_code":"INSUFFICIENT_STOCK"`)
}

func TestListSalesPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t, "settle_list")
	p := dbtest.SeedProduct(t, f.db, "P", "100", "5")

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := f.svc.Settle(context.Background(), cashierInput(
			[]ProductLine{{ProductID: p.ID, Quantity: dec("1"), Subtotal: dec("5")}}, nil,
		))
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := f.svc.ListSales(context.Background(), pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, ids[2], page.Items[0].ID)
	require.Equal(t, ids[1], page.Items[1].ID)
	require.NotEmpty(t, page.NextCursor)

	page, err = f.svc.ListSales(context.Background(), pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, ids[0], page.Items[0].ID)
	require.Empty(t, page.NextCursor)

	_, err = f.svc.ListSales(context.Background(), pagination.Params{Cursor: "%%%"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.GetSale(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	db := dbtest.Open(t, "settle_new_service")
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Tx: dbpkg.NewFromConn(db), Catalog: catalog.NewRepository(db), Sales: NewRepository(db)})
	require.Error(t, err, "outbox publisher is required")
}

func eventNames(span sdktrace.ReadOnlySpan) []string {
	names := make([]string, 0, len(span.Events()))
	for _, event := range span.Events() {
		names = append(names, event.Name)
	}
	return names
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, pair := range pairs {
		if want[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}
