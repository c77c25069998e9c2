package server

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/cloudmeeting/orderhub/pkg/crypto"
	"github.com/cloudmeeting/orderhub/pkg/model"
)

// ConnRegistry tracks live connections by id.
type ConnRegistry struct {
	mu    sync.RWMutex
	conns map[uint32]*Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[uint32]*Conn)}
}

// Add assigns c a fresh random non-zero id and registers it.
func (r *ConnRegistry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id uint32
	for {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id = binary.BigEndian.Uint32(b)
		if id != 0 {
			if _, exists := r.conns[id]; !exists {
				break
			}
		}
	}
	c.id = id
	r.conns[id] = c
}

// Get retrieves a connection by id.
func (r *ConnRegistry) Get(id uint32) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove unregisters a connection. It reports whether it was present, so
// cleanup runs once however many paths race to disconnect.
func (r *ConnRegistry) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Count returns the number of live connections.
func (r *ConnRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns all live connections (snapshot).
func (r *ConnRegistry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c)
	}
	return result
}

// Session ties a login token to the connection that obtained it.
type Session struct {
	Token    string
	Username string
	Role     model.Role
	ConnID   uint32
}

// SessionTable maps issued tokens to authenticated users. Tokens live only
// as long as their connection and are never persisted.
type SessionTable struct {
	mu      sync.RWMutex
	byToken map[string]Session
	byConn  map[uint32]string
}

// NewSessionTable creates an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		byToken: make(map[string]Session),
		byConn:  make(map[uint32]string),
	}
}

// Create mints a token for connID, replacing any session the connection held.
func (st *SessionTable) Create(connID uint32, username string, role model.Role) (Session, error) {
	token, err := crypto.GenerateToken()
	if err != nil {
		return Session{}, err
	}
	sess := Session{Token: token, Username: username, Role: role, ConnID: connID}

	st.mu.Lock()
	defer st.mu.Unlock()
	if old, ok := st.byConn[connID]; ok {
		delete(st.byToken, old)
	}
	st.byToken[token] = sess
	st.byConn[connID] = token
	return sess, nil
}

// Lookup returns the session for token.
func (st *SessionTable) Lookup(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.byToken[token]
	return sess, ok
}

// RemoveConn drops the session held by connID, if any.
func (st *SessionTable) RemoveConn(connID uint32) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	token, ok := st.byConn[connID]
	if !ok {
		return Session{}, false
	}
	sess := st.byToken[token]
	delete(st.byToken, token)
	delete(st.byConn, connID)
	return sess, true
}

// Count returns the number of active sessions.
func (st *SessionTable) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byToken)
}
