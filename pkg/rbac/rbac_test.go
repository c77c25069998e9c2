package rbac

import (
	"testing"

	"github.com/cloudmeeting/orderhub/pkg/model"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role model.Role
		perm Permission
		want bool
	}{
		{model.RoleRequester, PermCreateOrder, true},
		{model.RoleRequester, PermAcceptOrder, false},
		{model.RoleRequester, PermViewOpenOrders, false},
		{model.RoleRequester, PermCloseOrder, true},
		{model.RoleSpecialist, PermCreateOrder, false},
		{model.RoleSpecialist, PermAcceptOrder, true},
		{model.RoleSpecialist, PermViewOpenOrders, true},
		{model.RoleSpecialist, PermCloseOrder, false},
		{model.RoleNone, PermCreateOrder, false},
		{model.RoleNone, PermAcceptOrder, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestRequirePermission(t *testing.T) {
	if msg := RequirePermission(model.RoleRequester, PermCreateOrder); msg != "" {
		t.Errorf("unexpected denial: %q", msg)
	}
	want := "permission denied: accept_order requires specialist role"
	if msg := RequirePermission(model.RoleRequester, PermAcceptOrder); msg != want {
		t.Errorf("RequirePermission = %q, want %q", msg, want)
	}
}
