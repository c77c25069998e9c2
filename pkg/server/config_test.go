package server

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/store"
)

func TestExportYAML(t *testing.T) {
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	st := store.NewMemoryWith(
		[]model.User{
			{Username: "bob", Role: model.RoleSpecialist, PasswordHash: "h2", Salt: "s2", CreatedAt: created},
			{Username: "alice", Role: model.RoleRequester, PasswordHash: "h1", Salt: "s1", CreatedAt: created},
		},
		[]model.WorkOrder{
			{ID: "wo-1", Title: "Pump", Status: model.StatusAssigned, CreatedBy: "alice", AssignedTo: "bob", CreatedAt: created, UpdatedAt: created.Add(time.Minute)},
		},
	)

	data, err := ExportUsersYAML(st)
	if err != nil {
		t.Fatalf("ExportUsersYAML: %v", err)
	}
	if strings.Contains(string(data), "h1") || strings.Contains(string(data), "salt") {
		t.Fatalf("credentials leaked into export:\n%s", data)
	}
	var users UsersExport
	if err := yaml.Unmarshal(data, &users); err != nil {
		t.Fatalf("unmarshal users: %v", err)
	}
	wantUsers := UsersExport{Users: []UserYAML{
		{Username: "alice", Role: "requester", CreatedAt: "2026-02-03T04:05:06Z"},
		{Username: "bob", Role: "specialist", CreatedAt: "2026-02-03T04:05:06Z"},
	}}
	if diff := cmp.Diff(wantUsers, users); diff != "" {
		t.Errorf("users export mismatch (-want +got):\n%s", diff)
	}

	data, err = ExportOrdersYAML(st)
	if err != nil {
		t.Fatalf("ExportOrdersYAML: %v", err)
	}
	var orders OrdersExport
	if err := yaml.Unmarshal(data, &orders); err != nil {
		t.Fatalf("unmarshal orders: %v", err)
	}
	wantOrders := OrdersExport{Orders: []OrderYAML{{
		ID: "wo-1", Title: "Pump", Status: "assigned", CreatedBy: "alice", AssignedTo: "bob",
		CreatedAt: "2026-02-03T04:05:06Z", UpdatedAt: "2026-02-03T04:06:06Z",
	}}}
	if diff := cmp.Diff(wantOrders, orders); diff != "" {
		t.Errorf("orders export mismatch (-want +got):\n%s", diff)
	}
}

func TestExportEmptyStore(t *testing.T) {
	data, err := ExportOrdersYAML(store.NewMemory())
	if err != nil {
		t.Fatalf("ExportOrdersYAML: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "orders: []" {
		t.Fatalf("empty export = %q", got)
	}
}
