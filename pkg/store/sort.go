package store

import (
	"cmp"
	"slices"

	"github.com/cloudmeeting/orderhub/pkg/model"
)

// SortUsers orders users by username.
func SortUsers(users []model.User) {
	slices.SortFunc(users, func(a, b model.User) int {
		return cmp.Compare(a.Username, b.Username)
	})
}

// SortOrders orders work orders by creation time, breaking ties by id.
func SortOrders(orders []model.WorkOrder) {
	slices.SortFunc(orders, func(a, b model.WorkOrder) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
