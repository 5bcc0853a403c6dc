package engine

import (
	"github.com/tradelane/backend/pkg/enums"
)

// edge is a single allowed move in the lifecycle graph.
type edge struct {
	from enums.TradeState
	to   enums.TradeState
}

// transitionTable enumerates every legal edge. Terminal states (settled,
// refunded) have no outbound edges, so any request from them fails closed.
var transitionTable = map[enums.TradeState][]enums.TradeState{
	enums.TradeStateRFQOpen:        {enums.TradeStateQuoted},
	enums.TradeStateQuoted:         {enums.TradeStateContracted},
	enums.TradeStateContracted:     {enums.TradeStateEscrowRequired},
	enums.TradeStateEscrowRequired: {enums.TradeStateEscrowFunded},
	enums.TradeStateEscrowFunded: {
		enums.TradeStateProduction,
		enums.TradeStateDisputed,
		enums.TradeStateRefunded,
	},
	enums.TradeStateProduction: {
		enums.TradeStateReadyForPickup,
		enums.TradeStateDisputed,
	},
	enums.TradeStateReadyForPickup: {
		enums.TradeStateInTransit,
		enums.TradeStateDisputed,
	},
	enums.TradeStateInTransit: {
		enums.TradeStateDelivered,
		enums.TradeStateDisputed,
	},
	enums.TradeStateDelivered: {
		enums.TradeStateSettled,
		enums.TradeStateDisputed,
	},
	enums.TradeStateDisputed: {enums.TradeStateRefunded},
}

// CanTransition reports whether the edge from→to exists in the table.
func CanTransition(from, to enums.TradeState) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the legal target states from the given state.
func AllowedTargets(from enums.TradeState) []enums.TradeState {
	targets := transitionTable[from]
	out := make([]enums.TradeState, len(targets))
	copy(out, targets)
	return out
}
