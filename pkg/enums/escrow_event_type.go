package enums

import "fmt"

// EscrowEventType maps to the escrow_event_type_enum enum in Postgres.
type EscrowEventType string

const (
	EscrowEventCapturePending   EscrowEventType = "capture_pending"
	EscrowEventFunded           EscrowEventType = "funded"
	EscrowEventReleaseInitiated EscrowEventType = "release_initiated"
	EscrowEventReleased         EscrowEventType = "released"
	EscrowEventReleaseFailed    EscrowEventType = "release_failed"
	EscrowEventReleaseParked    EscrowEventType = "release_parked"
	EscrowEventRefunded         EscrowEventType = "refunded"
)

var validEscrowEventTypes = []EscrowEventType{
	EscrowEventCapturePending,
	EscrowEventFunded,
	EscrowEventReleaseInitiated,
	EscrowEventReleased,
	EscrowEventReleaseFailed,
	EscrowEventReleaseParked,
	EscrowEventRefunded,
}

// IsValid reports whether the value matches the canonical escrow event enum.
func (t EscrowEventType) IsValid() bool {
	for _, candidate := range validEscrowEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseEscrowEventType converts raw input into EscrowEventType.
func ParseEscrowEventType(value string) (EscrowEventType, error) {
	for _, candidate := range validEscrowEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow event type %q", value)
}
