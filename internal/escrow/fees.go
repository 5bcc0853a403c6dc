package escrow

import "github.com/shopspring/decimal"

var bpsDenominator = decimal.NewFromInt(10000)

// FeeSplit is the platform's cut of a funded escrow record. The invariant
// FeeCents + NetCents == GrossCents holds for every split.
type FeeSplit struct {
	GrossCents int
	FeeCents   int
	NetCents   int
}

// ComputeFeeSplit derives the platform fee from the gross amount: rateBps of
// gross, rounded half up, raised to floorCents, and never above gross. The
// net release amount is whatever remains.
func ComputeFeeSplit(grossCents, rateBps, floorCents int) FeeSplit {
	fee := decimal.NewFromInt(int64(grossCents)).
		Mul(decimal.NewFromInt(int64(rateBps))).
		Div(bpsDenominator).
		Round(0)

	feeCents := int(fee.IntPart())
	if feeCents < floorCents {
		feeCents = floorCents
	}
	if feeCents > grossCents {
		feeCents = grossCents
	}
	return FeeSplit{
		GrossCents: grossCents,
		FeeCents:   feeCents,
		NetCents:   grossCents - feeCents,
	}
}
