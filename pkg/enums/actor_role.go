package enums

import "fmt"

// ActorRole identifies who is acting on a trade.
type ActorRole string

const (
	ActorRoleBuyer     ActorRole = "buyer"
	ActorRoleSeller    ActorRole = "seller"
	ActorRoleLogistics ActorRole = "logistics"
	ActorRoleAdmin     ActorRole = "admin"
	ActorRoleSystem    ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleBuyer,
	ActorRoleSeller,
	ActorRoleLogistics,
	ActorRoleAdmin,
	ActorRoleSystem,
}

// IsValid reports whether the value matches a known actor role.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
