package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	atomicfile "github.com/natefinch/atomic"

	"github.com/cloudmeeting/orderhub/pkg/model"
)

const (
	UsersFile  = "users.json"
	OrdersFile = "workorders.json"
)

// FileStore keeps each document as a JSON object keyed by username or order
// id. Every save rewrites the file through a temp file and rename, so a crash
// mid-write leaves the previous version intact.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	closed bool
}

type userRecord struct {
	PasswordHash string     `json:"password_hash"`
	Salt         string     `json:"salt"`
	Role         model.Role `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
}

type orderRecord struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      model.Status `json:"status"`
	CreatedBy   string       `json:"created_by"`
	AssignedTo  string       `json:"assigned_to"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewFile opens a FileStore rooted at dir, creating the directory if needed.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.dir }

// Close marks the store closed. Files need no cleanup.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// LoadUsers reads users.json. A missing file is an empty document.
func (s *FileStore) LoadUsers() ([]model.User, error) {
	var doc map[string]userRecord
	if err := s.readDoc(UsersFile, &doc); err != nil {
		return nil, fmt.Errorf("store: load users: %w", err)
	}
	users := make([]model.User, 0, len(doc))
	for name, r := range doc {
		users = append(users, model.User{
			Username:     name,
			Role:         r.Role,
			PasswordHash: r.PasswordHash,
			Salt:         r.Salt,
			CreatedAt:    r.CreatedAt,
		})
	}
	SortUsers(users)
	return users, nil
}

// SaveUsers rewrites users.json.
func (s *FileStore) SaveUsers(users []model.User) error {
	doc := make(map[string]userRecord, len(users))
	for _, u := range users {
		doc[u.Username] = userRecord{
			PasswordHash: u.PasswordHash,
			Salt:         u.Salt,
			Role:         u.Role,
			CreatedAt:    u.CreatedAt,
		}
	}
	if err := s.writeDoc(UsersFile, doc); err != nil {
		return fmt.Errorf("store: save users: %w", err)
	}
	return nil
}

// LoadOrders reads workorders.json. A missing file is an empty document.
func (s *FileStore) LoadOrders() ([]model.WorkOrder, error) {
	var doc map[string]orderRecord
	if err := s.readDoc(OrdersFile, &doc); err != nil {
		return nil, fmt.Errorf("store: load orders: %w", err)
	}
	orders := make([]model.WorkOrder, 0, len(doc))
	for id, r := range doc {
		orders = append(orders, model.WorkOrder{
			ID:          id,
			Title:       r.Title,
			Description: r.Description,
			Status:      r.Status,
			CreatedBy:   r.CreatedBy,
			AssignedTo:  r.AssignedTo,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	SortOrders(orders)
	return orders, nil
}

// SaveOrders rewrites workorders.json.
func (s *FileStore) SaveOrders(orders []model.WorkOrder) error {
	doc := make(map[string]orderRecord, len(orders))
	for _, o := range orders {
		doc[o.ID] = orderRecord{
			Title:       o.Title,
			Description: o.Description,
			Status:      o.Status,
			CreatedBy:   o.CreatedBy,
			AssignedTo:  o.AssignedTo,
			CreatedAt:   o.CreatedAt,
			UpdatedAt:   o.UpdatedAt,
		}
	}
	if err := s.writeDoc(OrdersFile, doc); err != nil {
		return fmt.Errorf("store: save orders: %w", err)
	}
	return nil
}

func (s *FileStore) readDoc(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) writeDoc(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return atomicfile.WriteFile(filepath.Join(s.dir, name), bytes.NewReader(data))
}
