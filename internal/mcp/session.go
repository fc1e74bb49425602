// ABOUTME: In-memory MCP session table with idle expiry.
// ABOUTME: Binds each session to a digest of the credential that opened it.

package mcp

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionIdleTimeout is how long an unused MCP session survives.
const DefaultSessionIdleTimeout = 24 * time.Hour

// session is one initialized MCP client.
type session struct {
	id              string
	protocolVersion string
	caller          caller
	owner           []byte // sha256 of the opening credential, nil when anonymous
	lastUsed        time.Time
}

// ownedBy reports whether cred may act on the session. Anonymous sessions
// accept any caller.
func (s *session) ownedBy(cred string) bool {
	if s.owner == nil {
		return true
	}
	sum := sha256.Sum256([]byte(cred))
	return subtle.ConstantTimeCompare(s.owner, sum[:]) == 1
}

// sessionTable holds live sessions. Expired entries are dropped lazily on
// lookup and whenever a session is opened.
type sessionTable struct {
	mu      sync.Mutex
	byID    map[string]*session
	idleTTL time.Duration
	now     func() time.Time
}

func newSessionTable(idleTTL time.Duration) *sessionTable {
	if idleTTL <= 0 {
		idleTTL = DefaultSessionIdleTimeout
	}
	return &sessionTable{
		byID:    make(map[string]*session),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

func (t *sessionTable) open(version string, c caller, cred string) *session {
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: version,
		caller:          c,
	}
	if cred != "" {
		sum := sha256.Sum256([]byte(cred))
		sess.owner = sum[:]
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, old := range t.byID {
		if t.expired(old, now) {
			delete(t.byID, id)
		}
	}
	sess.lastUsed = now
	t.byID[sess.id] = sess
	return sess
}

// lookup returns a live session and marks it used.
func (t *sessionTable) lookup(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	now := t.now()
	if t.expired(sess, now) {
		delete(t.byID, id)
		return nil, false
	}
	sess.lastUsed = now
	return sess, true
}

func (t *sessionTable) remove(id string) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}

func (t *sessionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

func (t *sessionTable) expired(s *session, now time.Time) bool {
	return now.Sub(s.lastUsed) > t.idleTTL
}
