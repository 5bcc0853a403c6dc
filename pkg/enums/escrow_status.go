package enums

import "fmt"

// EscrowStatus maps to the escrow_status_enum enum in Postgres.
type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "pending"
	EscrowStatusFunded   EscrowStatus = "funded"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusFailed   EscrowStatus = "failed"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusPending,
	EscrowStatusFunded,
	EscrowStatusReleased,
	EscrowStatusRefunded,
	EscrowStatusFailed,
}

// IsValid reports whether the value matches the canonical escrow status enum.
func (s EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the escrow record can no longer change.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

// ParseEscrowStatus converts raw input into EscrowStatus.
func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}
