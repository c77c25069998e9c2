package server

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudmeeting/orderhub/pkg/store"
)

// UserYAML represents a user in YAML export. Credentials are never exported.
type UserYAML struct {
	Username  string `yaml:"username"`
	Role      string `yaml:"role"`
	CreatedAt string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// OrderYAML represents a work order in YAML export.
type OrderYAML struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Status      string `yaml:"status"`
	CreatedBy   string `yaml:"created_by"`
	AssignedTo  string `yaml:"assigned_to,omitempty"`
	CreatedAt   string `yaml:"created_at"`
	UpdatedAt   string `yaml:"updated_at"`
}

// OrdersExport is the top-level YAML for work-order export.
type OrdersExport struct {
	Orders []OrderYAML `yaml:"orders"`
}

// ExportUsersYAML exports all users as YAML.
func ExportUsersYAML(st store.DataStore) ([]byte, error) {
	users, err := st.LoadUsers()
	if err != nil {
		return nil, fmt.Errorf("export users: %w", err)
	}

	export := UsersExport{Users: []UserYAML{}}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			Username:  u.Username,
			Role:      u.Role.String(),
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return yaml.Marshal(&export)
}

// ExportOrdersYAML exports all work orders as YAML.
func ExportOrdersYAML(st store.DataStore) ([]byte, error) {
	orders, err := st.LoadOrders()
	if err != nil {
		return nil, fmt.Errorf("export orders: %w", err)
	}

	export := OrdersExport{Orders: []OrderYAML{}}
	for _, o := range orders {
		export.Orders = append(export.Orders, OrderYAML{
			ID:          o.ID,
			Title:       o.Title,
			Description: o.Description,
			Status:      string(o.Status),
			CreatedBy:   o.CreatedBy,
			AssignedTo:  o.AssignedTo,
			CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:   o.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return yaml.Marshal(&export)
}
