package chat

import "schoolchat/pkg/types"

// Capability describes what one chat surface may do. The protocol is
// identical for every role; only the counterpart scope and the delete
// affordance differ, so the three school surfaces (admin, parent, student)
// are this one client parameterized three ways.
type Capability struct {
	// AllowedCounterpartRoles scopes the conversation list. Empty means
	// unrestricted.
	AllowedCounterpartRoles []types.Role
	CanDeleteConversation   bool
}

// CapabilityForRole returns the default capability of each account kind:
// admins talk to everyone and manage threads, parents and students only
// reach staff.
func CapabilityForRole(role types.Role) Capability {
	switch role {
	case types.RoleAdmin:
		return Capability{CanDeleteConversation: true}
	case types.RoleTeacher:
		return Capability{
			AllowedCounterpartRoles: []types.Role{types.RoleAdmin, types.RoleParent, types.RoleStudent},
		}
	case types.RoleParent:
		return Capability{
			AllowedCounterpartRoles: []types.Role{types.RoleAdmin},
		}
	case types.RoleStudent:
		return Capability{
			AllowedCounterpartRoles: []types.Role{types.RoleAdmin, types.RoleTeacher},
		}
	default:
		return Capability{}
	}
}
