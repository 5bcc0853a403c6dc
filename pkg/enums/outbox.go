package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type_enum enum in Postgres.
type OutboxAggregateType string

const (
	AggregateTrade         OutboxAggregateType = "trade"
	AggregateEscrowRecord  OutboxAggregateType = "escrow_record"
	AggregateDispatchEvent OutboxAggregateType = "dispatch_event"
	AggregateNotification  OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTrade,
	AggregateEscrowRecord,
	AggregateDispatchEvent,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type_enum enum in Postgres.
type OutboxEventType string

const (
	EventTradeStateChanged     OutboxEventType = "trade_state_changed"
	EventTradeCreated          OutboxEventType = "trade_created"
	EventQuoteSubmitted        OutboxEventType = "quote_submitted"
	EventQuoteSelected         OutboxEventType = "quote_selected"
	EventContractSigned        OutboxEventType = "contract_signed"
	EventEscrowFunded          OutboxEventType = "escrow_funded"
	EventEscrowReleased        OutboxEventType = "escrow_released"
	EventEscrowReleaseParked   OutboxEventType = "escrow_release_parked"
	EventEscrowReleaseFailed   OutboxEventType = "escrow_release_failed"
	EventEscrowRefunded        OutboxEventType = "escrow_refunded"
	EventDispatchRequested     OutboxEventType = "dispatch_requested"
	EventDispatchFailed        OutboxEventType = "dispatch_failed"
	EventProviderNotified      OutboxEventType = "provider_notified"
	EventShipmentAssigned      OutboxEventType = "shipment_assigned"
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTradeStateChanged,
	EventTradeCreated,
	EventQuoteSubmitted,
	EventQuoteSelected,
	EventContractSigned,
	EventEscrowFunded,
	EventEscrowReleased,
	EventEscrowReleaseParked,
	EventEscrowReleaseFailed,
	EventEscrowRefunded,
	EventDispatchRequested,
	EventDispatchFailed,
	EventProviderNotified,
	EventShipmentAssigned,
	EventNotificationRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason maps to the outbox_dlq_error_reason_enum enum in Postgres.
type OutboxDLQErrorReason string

const (
	DLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	DLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	DLQReasonExpired      OutboxDLQErrorReason = "expired"
)

var validDLQErrorReasons = []OutboxDLQErrorReason{
	DLQReasonMaxAttempts,
	DLQReasonNonRetryable,
	DLQReasonExpired,
}

// IsValid reports whether the value matches the canonical DLQ error reason enum.
func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
