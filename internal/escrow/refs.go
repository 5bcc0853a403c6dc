package escrow

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

const releaseRefLen = 32

// ReleaseReference derives the deterministic transfer reference for a trade's
// escrow record. The payout provider dedupes on this value, so recomputing it
// after a crash targets the same transfer instead of creating a second one.
func ReleaseReference(tradeID, escrowRecordID uuid.UUID) string {
	sum := sha256.Sum256([]byte(tradeID.String() + ":" + escrowRecordID.String()))
	return hex.EncodeToString(sum[:])[:releaseRefLen]
}
