package enums

import "fmt"

// VehicleType maps to the vehicle_type_enum enum in Postgres.
type VehicleType string

const (
	VehicleTypeVan          VehicleType = "van"
	VehicleTypeTruck        VehicleType = "truck"
	VehicleTypeFlatbed      VehicleType = "flatbed"
	VehicleTypeRefrigerated VehicleType = "refrigerated"
)

var validVehicleTypes = []VehicleType{
	VehicleTypeVan,
	VehicleTypeTruck,
	VehicleTypeFlatbed,
	VehicleTypeRefrigerated,
}

// IsValid reports whether the value matches the canonical vehicle type enum.
func (v VehicleType) IsValid() bool {
	for _, candidate := range validVehicleTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVehicleType converts raw input into VehicleType.
func ParseVehicleType(value string) (VehicleType, error) {
	for _, candidate := range validVehicleTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vehicle type %q", value)
}
