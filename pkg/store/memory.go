package store

import (
	"slices"
	"sync"

	"github.com/cloudmeeting/orderhub/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// Saves can be made to fail to exercise the hub's persistence error path.
type MemoryStore struct {
	mu sync.RWMutex

	users  []model.User
	orders []model.WorkOrder

	saveErr    error
	userSaves  int
	orderSaves int
	closed     bool
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryWith creates a MemoryStore preloaded with users and orders.
func NewMemoryWith(users []model.User, orders []model.WorkOrder) *MemoryStore {
	m := &MemoryStore{
		users:  slices.Clone(users),
		orders: slices.Clone(orders),
	}
	SortUsers(m.users)
	SortOrders(m.orders)
	return m
}

// FailSaves makes every subsequent save return err. A nil err restores normal saves.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// SaveCounts returns how many user and order saves succeeded.
func (m *MemoryStore) SaveCounts() (users, orders int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userSaves, m.orderSaves
}

func (m *MemoryStore) LoadUsers() ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.users), nil
}

func (m *MemoryStore) SaveUsers(users []model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.users = slices.Clone(users)
	SortUsers(m.users)
	m.userSaves++
	return nil
}

func (m *MemoryStore) LoadOrders() ([]model.WorkOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.orders), nil
}

func (m *MemoryStore) SaveOrders(orders []model.WorkOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.orders = slices.Clone(orders)
	SortOrders(m.orders)
	m.orderSaves++
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
