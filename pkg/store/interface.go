// Package store persists the credential and work-order documents.
//
// Both documents are small and always read and written whole: the hub loads
// them once at startup and hands a full snapshot back on every change.
package store

import (
	"errors"

	"github.com/cloudmeeting/orderhub/pkg/model"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// DataStore defines the persistence interface for the hub.
// Implementations include the JSON FileStore, the SQLite store in
// pkg/datastore and MemoryStore for tests.
type DataStore interface {
	// LoadUsers returns every registered user, ordered by username.
	LoadUsers() ([]model.User, error)

	// SaveUsers replaces the credential document with users.
	SaveUsers(users []model.User) error

	// LoadOrders returns every work order, ordered by creation time then id.
	LoadOrders() ([]model.WorkOrder, error)

	// SaveOrders replaces the work-order document with orders.
	SaveOrders(orders []model.WorkOrder) error

	// Close releases the underlying storage.
	Close() error
}

// Compile-time checks.
var (
	_ DataStore = (*FileStore)(nil)
	_ DataStore = (*MemoryStore)(nil)
)
