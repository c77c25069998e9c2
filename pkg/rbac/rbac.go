// Package rbac provides role-based access control checks.
package rbac

import "github.com/cloudmeeting/orderhub/pkg/model"

// Permission is a capability granted by a role.
type Permission int

const (
	PermCreateOrder Permission = iota + 1
	PermAcceptOrder
	PermViewOpenOrders
	PermCloseOrder
)

// permissionMatrix maps roles to their allowed permissions.
// Ownership rules (creator, assignee) are checked by the order itself.
var permissionMatrix = map[model.Role]map[Permission]bool{
	model.RoleRequester: {
		PermCreateOrder: true,
		PermCloseOrder:  true,
	},
	model.RoleSpecialist: {
		PermAcceptOrder:    true,
		PermViewOpenOrders: true,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the role lacks the permission, or empty string if allowed.
func RequirePermission(role model.Role, perm Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + perm.String() + " requires " + requiredRole(perm)
}

func (p Permission) String() string {
	switch p {
	case PermCreateOrder:
		return "create_order"
	case PermAcceptOrder:
		return "accept_order"
	case PermViewOpenOrders:
		return "view_open_orders"
	case PermCloseOrder:
		return "close_order"
	default:
		return "unknown"
	}
}

func requiredRole(p Permission) string {
	for _, r := range []model.Role{model.RoleRequester, model.RoleSpecialist} {
		if HasPermission(r, p) {
			return r.String() + " role"
		}
	}
	return "a higher role"
}
