package escrow

import "testing"

func TestComputeFeeSplit(t *testing.T) {
	tests := []struct {
		name       string
		gross      int
		rateBps    int
		floor      int
		wantFee    int
		wantNet    int
	}{
		{name: "standard rate above floor", gross: 100000, rateBps: 850, floor: 5000, wantFee: 8500, wantNet: 91500},
		{name: "floor raises small fee", gross: 10000, rateBps: 850, floor: 5000, wantFee: 5000, wantNet: 5000},
		{name: "fee capped at gross", gross: 2000, rateBps: 850, floor: 5000, wantFee: 2000, wantNet: 0},
		{name: "zero gross", gross: 0, rateBps: 850, floor: 5000, wantFee: 0, wantNet: 0},
		{name: "no floor", gross: 10000, rateBps: 850, floor: 0, wantFee: 850, wantNet: 9150},
		{name: "rounds half up", gross: 999, rateBps: 850, floor: 0, wantFee: 85, wantNet: 914},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			split := ComputeFeeSplit(tc.gross, tc.rateBps, tc.floor)
			if split.GrossCents != tc.gross {
				t.Fatalf("gross = %d, want %d", split.GrossCents, tc.gross)
			}
			if split.FeeCents != tc.wantFee {
				t.Fatalf("fee = %d, want %d", split.FeeCents, tc.wantFee)
			}
			if split.NetCents != tc.wantNet {
				t.Fatalf("net = %d, want %d", split.NetCents, tc.wantNet)
			}
			if split.FeeCents+split.NetCents != split.GrossCents {
				t.Fatalf("fee %d + net %d does not reconstruct gross %d", split.FeeCents, split.NetCents, split.GrossCents)
			}
		})
	}
}
