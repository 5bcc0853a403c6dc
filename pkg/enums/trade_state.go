package enums

import "fmt"

// TradeState maps to the trade_state_enum enum in Postgres.
type TradeState string

const (
	TradeStateRFQOpen        TradeState = "rfq_open"
	TradeStateQuoted         TradeState = "quoted"
	TradeStateContracted     TradeState = "contracted"
	TradeStateEscrowRequired TradeState = "escrow_required"
	TradeStateEscrowFunded   TradeState = "escrow_funded"
	TradeStateProduction     TradeState = "production"
	TradeStateReadyForPickup TradeState = "ready_for_pickup"
	TradeStateInTransit      TradeState = "in_transit"
	TradeStateDelivered      TradeState = "delivered"
	TradeStateSettled        TradeState = "settled"
	TradeStateDisputed       TradeState = "disputed"
	TradeStateRefunded       TradeState = "refunded"
)

var validTradeStates = []TradeState{
	TradeStateRFQOpen,
	TradeStateQuoted,
	TradeStateContracted,
	TradeStateEscrowRequired,
	TradeStateEscrowFunded,
	TradeStateProduction,
	TradeStateReadyForPickup,
	TradeStateInTransit,
	TradeStateDelivered,
	TradeStateSettled,
	TradeStateDisputed,
	TradeStateRefunded,
}

// IsValid reports whether the value matches the canonical trade state enum.
func (s TradeState) IsValid() bool {
	for _, candidate := range validTradeStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state has no outbound transitions.
func (s TradeState) IsTerminal() bool {
	return s == TradeStateSettled || s == TradeStateRefunded
}

// IsPostFunding reports whether escrow money is held while in this state.
func (s TradeState) IsPostFunding() bool {
	switch s {
	case TradeStateEscrowFunded, TradeStateProduction, TradeStateReadyForPickup,
		TradeStateInTransit, TradeStateDelivered:
		return true
	default:
		return false
	}
}

// ParseTradeState converts raw input into TradeState.
func ParseTradeState(value string) (TradeState, error) {
	for _, candidate := range validTradeStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid trade state %q", value)
}
