package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudmeeting/orderhub/pkg/crypto"
	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/protocol/events"
	"github.com/cloudmeeting/orderhub/pkg/store"
)

// CredentialTable holds registered users. It is loaded once and rewritten
// whole after every registration.
type CredentialTable struct {
	mu    sync.RWMutex
	users map[string]model.User
	st    store.DataStore
	now   func() time.Time
	saver persister

	// dummySalt/dummyHash let unknown usernames cost the same as wrong passwords.
	dummySalt string
	dummyHash string
}

// NewCredentialTable creates an empty table backed by st.
func NewCredentialTable(st store.DataStore, now func() time.Time, metrics *Metrics) *CredentialTable {
	return &CredentialTable{
		users: make(map[string]model.User),
		st:    st,
		now:   now,
		saver: persister{doc: "users", metrics: metrics},
	}
}

// Load replaces the table contents with the stored document.
func (t *CredentialTable) Load() error {
	users, err := t.st.LoadUsers()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = make(map[string]model.User, len(users))
	for _, u := range users {
		t.users[u.Username] = u
	}
	return nil
}

// Count returns the number of registered users.
func (t *CredentialTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// List returns all users ordered by username.
func (t *CredentialTable) List() []model.User {
	t.mu.RLock()
	users := make([]model.User, 0, len(t.users))
	for _, u := range t.users {
		users = append(users, u)
	}
	t.mu.RUnlock()
	store.SortUsers(users)
	return users
}

// Register creates an account. The password is stored only as a salted hash.
func (t *CredentialTable) Register(username, password, role string) (model.User, error) {
	username = strings.TrimSpace(username)
	if err := model.ValidateUsername(username); err != nil {
		return model.User{}, err
	}
	if password == "" {
		return model.User{}, model.ErrPasswordEmpty
	}
	r := model.ParseRole(role)
	if !r.Valid() {
		return model.User{}, model.ErrInvalidRole
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return model.User{}, err
	}
	hash, err := crypto.HashPassword(password, salt)
	if err != nil {
		return model.User{}, err
	}
	user := model.User{
		Username:     username,
		Role:         r,
		PasswordHash: hash,
		Salt:         salt,
		CreatedAt:    t.now(),
	}

	t.mu.Lock()
	if _, exists := t.users[username]; exists {
		t.mu.Unlock()
		return model.User{}, ErrUserExists
	}
	t.users[username] = user
	t.mu.Unlock()

	t.saver.run(func() error { return t.st.SaveUsers(t.List()) })
	return user, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (t *CredentialTable) Authenticate(username, password string) (model.User, error) {
	username = strings.TrimSpace(username)
	t.mu.RLock()
	user, ok := t.users[username]
	t.mu.RUnlock()

	if !ok {
		t.burnHash(password)
		return model.User{}, ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(password, user.Salt, user.PasswordHash) {
		return model.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (t *CredentialTable) burnHash(password string) {
	t.mu.Lock()
	if t.dummySalt == "" {
		if salt, err := crypto.GenerateSalt(); err == nil {
			t.dummySalt = salt
			t.dummyHash, _ = crypto.HashPassword("", salt)
		}
	}
	salt, hash := t.dummySalt, t.dummyHash
	t.mu.Unlock()
	crypto.VerifyPassword(password, salt, hash)
}

// handleAuth processes register and login requests. They are allowed
// before login and throttled per connection.
func (s *Server) handleAuth(c *Conn, p protocol.Packet) {
	if !c.authLimiter.Allow() {
		s.metrics.ThrottledAuths.Add(1)
		s.sendError(c, events.KindAuth, newError(CodeThrottled, "too many authentication attempts"))
		return
	}

	var req events.AuthRequest
	if err := p.Unmarshal(&req); err != nil {
		s.sendError(c, events.KindAuth, newError(CodeBadRequest, "malformed auth request"))
		return
	}

	switch req.Op {
	case events.OpRegister:
		s.handleRegister(c, req)
	case events.OpLogin:
		s.handleLogin(c, req)
	default:
		s.sendError(c, events.KindAuth, newError(CodeBadRequest, fmt.Sprintf("unknown auth op %q", req.Op)))
	}
}

func (s *Server) handleRegister(c *Conn, req events.AuthRequest) {
	user, err := s.users.Register(req.Username, req.Password, req.Role)
	if err != nil {
		s.sendError(c, events.KindAuth, toError(err))
		return
	}
	s.metrics.Registrations.Add(1)
	slog.Info("user registered", "user", user.Username, "role", user.Role, "conn", c.ID())
	s.send(c, protocol.TypeServerEvent, events.AuthEvent{
		Kind:    events.KindAuth,
		Event:   events.EventOK,
		Message: "registration successful",
	})
}

func (s *Server) handleLogin(c *Conn, req events.AuthRequest) {
	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		slog.Debug("login failed", "conn", c.ID(), "remote", c.RemoteAddr())
		s.sendError(c, events.KindAuth, toError(err))
		return
	}

	// A second login on the same connection replaces its identity; drop out
	// of any room first so members never see a stale name.
	if prev, _, _ := c.Identity(); prev != "" && prev != user.Username {
		s.leaveRoom(c, prev)
	}

	sess, err := s.sessions.Create(c.ID(), user.Username, user.Role)
	if err != nil {
		slog.Error("session create failed", "err", err)
		s.sendError(c, events.KindAuth, newError(CodeBadRequest, "could not create session"))
		return
	}
	if !s.registered(c) {
		s.sessions.RemoveConn(c.ID())
		return
	}
	c.setIdentity(user.Username, user.Role, sess.Token)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("client authenticated", "user", user.Username, "role", user.Role, "conn", c.ID(),
		"token", crypto.HashToken(sess.Token))

	profile := user.Profile()
	s.send(c, protocol.TypeServerEvent, events.AuthEvent{
		Kind:      events.KindAuth,
		Event:     events.EventOK,
		Token:     sess.Token,
		SessionID: c.ID(),
		User:      &profile,
	})
}

// authenticated returns the session carried by c, if it is still registered.
func (s *Server) authenticated(c *Conn) (Session, bool) {
	_, _, token := c.Identity()
	sess, ok := s.sessions.Lookup(token)
	if !ok || sess.ConnID != c.ID() {
		return Session{}, false
	}
	return sess, true
}
