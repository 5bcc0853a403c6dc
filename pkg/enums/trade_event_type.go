package enums

import "fmt"

// TradeEventType maps to the trade_event_type_enum enum in Postgres.
type TradeEventType string

const (
	TradeEventStateChanged     TradeEventType = "state_changed"
	TradeEventTransitionFailed TradeEventType = "transition_failed"
	TradeEventQuoteSubmitted   TradeEventType = "quote_submitted"
	TradeEventQuoteSelected    TradeEventType = "quote_selected"
	TradeEventContractSigned   TradeEventType = "contract_signed"
	TradeEventEscrowFunded     TradeEventType = "escrow_funded"
	TradeEventReleaseInitiated TradeEventType = "release_initiated"
	TradeEventReleaseParked    TradeEventType = "release_parked"
	TradeEventReleaseFailed    TradeEventType = "release_failed"
	TradeEventReleased         TradeEventType = "released"
	TradeEventDispatchRequest  TradeEventType = "dispatch_requested"
	TradeEventDispatchFailed   TradeEventType = "dispatch_failed"
	TradeEventRefunded         TradeEventType = "refunded"
)

var validTradeEventTypes = []TradeEventType{
	TradeEventStateChanged,
	TradeEventTransitionFailed,
	TradeEventQuoteSubmitted,
	TradeEventQuoteSelected,
	TradeEventContractSigned,
	TradeEventEscrowFunded,
	TradeEventReleaseInitiated,
	TradeEventReleaseParked,
	TradeEventReleaseFailed,
	TradeEventReleased,
	TradeEventDispatchRequest,
	TradeEventDispatchFailed,
	TradeEventRefunded,
}

// IsValid reports whether the value matches the canonical trade event enum.
func (t TradeEventType) IsValid() bool {
	for _, candidate := range validTradeEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTradeEventType converts raw input into TradeEventType.
func ParseTradeEventType(value string) (TradeEventType, error) {
	for _, candidate := range validTradeEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid trade event type %q", value)
}
