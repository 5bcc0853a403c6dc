package enums

import "fmt"

// DispatchEventType maps to the dispatch_event_type_enum enum in Postgres.
type DispatchEventType string

const (
	DispatchEventRequested        DispatchEventType = "requested"
	DispatchEventProviderNotified DispatchEventType = "provider_notified"
	DispatchEventProviderAccepted DispatchEventType = "provider_accepted"
	DispatchEventProviderRejected DispatchEventType = "provider_rejected"
	DispatchEventShipmentAssigned DispatchEventType = "shipment_assigned"
	DispatchEventFailed           DispatchEventType = "dispatch_failed"
)

var validDispatchEventTypes = []DispatchEventType{
	DispatchEventRequested,
	DispatchEventProviderNotified,
	DispatchEventProviderAccepted,
	DispatchEventProviderRejected,
	DispatchEventShipmentAssigned,
	DispatchEventFailed,
}

// IsValid reports whether the value matches the canonical dispatch event enum.
func (t DispatchEventType) IsValid() bool {
	for _, candidate := range validDispatchEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseDispatchEventType converts raw input into DispatchEventType.
func ParseDispatchEventType(value string) (DispatchEventType, error) {
	for _, candidate := range validDispatchEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispatch event type %q", value)
}
