package csql

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database/pool"
)

// contextKey is a type for context keys.
type contextKey string

// sessionKey is the context key for the session.
const sessionKey contextKey = "csql_session"

// Session is one logical unit of work. It holds at most one open
// transaction connection per DataBase; every CSQL running with the session
// on its context shares those transactions.
type Session struct {
	id string

	mu    sync.Mutex
	bound map[string]*binding
}

type binding struct {
	db   *database.DataBase
	conn *pool.Conn
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		id:    uuid.NewString(),
		bound: map[string]*binding{},
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// WithSession stores a session in the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom retrieves the session from the context, nil when none.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

// Conn returns the transaction connection bound for db, nil when none.
func (s *Session) Conn(db *database.DataBase) *pool.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bound[db.ID()]; ok {
		return b.conn
	}
	return nil
}

// InTransaction reports whether a transaction is open against db.
func (s *Session) InTransaction(db *database.DataBase) bool {
	return s.Conn(db) != nil
}

func (s *Session) bind(db *database.DataBase, c *pool.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[db.ID()] = &binding{db: db, conn: c}
}

func (s *Session) unbind(db *database.DataBase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bound, db.ID())
}

// Close rolls back and discards every transaction still open in the
// session.
func (s *Session) Close() {
	s.mu.Lock()
	bound := s.bound
	s.bound = map[string]*binding{}
	s.mu.Unlock()

	for _, b := range bound {
		debug.Warn("rolling back transaction left open in session", "session", s.id, "database", b.db.String())
		_ = b.conn.Rollback()
		b.db.KillConnection(b.conn)
	}
}
