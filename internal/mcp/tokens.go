// ABOUTME: MCP token store mapping static URL tokens to named capability sets.
// ABOUTME: Tokens come from config (mcp.tokens) or are minted at runtime with CreateToken.

package mcp

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTokenExists indicates the token value is already registered.
var ErrTokenExists = errors.New("token already registered")

// TokenEntry is what a token grants.
type TokenEntry struct {
	Name         string
	Capabilities []string
}

// TokenStore manages MCP access tokens and their associated capabilities.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]TokenEntry
}

// NewTokenStore creates a new token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]TokenEntry),
	}
}

// AddToken registers a caller-chosen token value.
func (s *TokenStore) AddToken(token, name string, capabilities []string) error {
	if token == "" {
		return errors.New("token is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token]; exists {
		return ErrTokenExists
	}
	s.tokens[token] = TokenEntry{Name: name, Capabilities: copyCaps(capabilities)}
	return nil
}

// CreateToken generates a new random token for the given name and capabilities.
// Returns the token string that should be included in MCP URLs.
func (s *TokenStore) CreateToken(name string, capabilities []string) string {
	token := uuid.New().String()

	s.mu.Lock()
	s.tokens[token] = TokenEntry{Name: name, Capabilities: copyCaps(capabilities)}
	s.mu.Unlock()

	return token
}

// Lookup returns a copy of the entry for a token.
func (s *TokenStore) Lookup(token string) (TokenEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[token]
	if !ok {
		return TokenEntry{}, false
	}
	entry.Capabilities = copyCaps(entry.Capabilities)
	return entry, true
}

// GetCapabilities returns the capabilities for a token, or nil if not found.
func (s *TokenStore) GetCapabilities(token string) []string {
	entry, ok := s.Lookup(token)
	if !ok {
		return nil
	}
	return entry.Capabilities
}

// InvalidateToken removes a token from the store.
func (s *TokenStore) InvalidateToken(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// TokenCount returns the number of active tokens (for monitoring).
func (s *TokenStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func copyCaps(caps []string) []string {
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}
