package enums

// OutboxAggregateType maps to outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateSale    OutboxAggregateType = "sale"
	AggregateProduct OutboxAggregateType = "product"
)

// OutboxEventType maps to outbox_events.event_type. Every event type is
// emitted by exactly one aggregate type.
type OutboxEventType string

const (
	EventSaleSettled      OutboxEventType = "sale_settled"
	EventProductRestocked OutboxEventType = "product_restocked"
)

func (e OutboxEventType) IsValid() bool { return e.Aggregate() != "" }

// Aggregate returns the aggregate type that emits e, or "" for unknown events.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	switch e {
	case EventSaleSettled:
		return AggregateSale
	case EventProductRestocked:
		return AggregateProduct
	}
	return ""
}

// OutboxDLQErrorReason maps to outbox_dlq.error_reason.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
