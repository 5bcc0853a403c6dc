package dispatch

import (
	"strings"

	"github.com/tradelane/backend/pkg/enums"
)

const heavyCargoThresholdKg = 5000

// VehiclesForCargo derives the acceptable vehicle set from the cargo on the
// trade. Perishable loads need refrigeration, heavy or oversized loads need a
// truck or flatbed, anything else can ride in a van or truck.
func VehiclesForCargo(cargoType string, weightKg int) []enums.VehicleType {
	normalized := strings.ToLower(strings.TrimSpace(cargoType))

	switch {
	case strings.Contains(normalized, "perishable"),
		strings.Contains(normalized, "frozen"),
		strings.Contains(normalized, "chilled"):
		return []enums.VehicleType{enums.VehicleTypeRefrigerated}

	case strings.Contains(normalized, "machinery"),
		strings.Contains(normalized, "steel"),
		strings.Contains(normalized, "timber"):
		return []enums.VehicleType{enums.VehicleTypeFlatbed, enums.VehicleTypeTruck}

	case weightKg > heavyCargoThresholdKg:
		return []enums.VehicleType{enums.VehicleTypeTruck, enums.VehicleTypeFlatbed}

	default:
		return []enums.VehicleType{enums.VehicleTypeVan, enums.VehicleTypeTruck}
	}
}
