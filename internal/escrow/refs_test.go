package escrow

import (
	"testing"

	"github.com/google/uuid"
)

func TestReleaseReferenceDeterministic(t *testing.T) {
	tradeID := uuid.MustParse("6b1e2f7c-0c1d-4f7e-9b2a-3c4d5e6f7a8b")
	recordID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	first := ReleaseReference(tradeID, recordID)
	second := ReleaseReference(tradeID, recordID)
	if first != second {
		t.Fatalf("same inputs produced different references: %q vs %q", first, second)
	}
	if len(first) != 32 {
		t.Fatalf("reference length = %d, want 32", len(first))
	}
}

func TestReleaseReferenceDistinctPerTrade(t *testing.T) {
	recordID := uuid.New()
	a := ReleaseReference(uuid.New(), recordID)
	b := ReleaseReference(uuid.New(), recordID)
	if a == b {
		t.Fatalf("different trades produced the same reference %q", a)
	}
}
