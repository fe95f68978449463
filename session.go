package cartsync

import (
	"sync"

	"github.com/google/uuid"

	"goflare.io/cartsync/remote"
)

var _ remote.TokenSource = (*Session)(nil)

// Session holds the identity of one shopper on one device.
type Session struct {
	id string

	mu    sync.RWMutex
	token string
}

// NewSession returns an anonymous session. An empty id gets a random one.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{id: id}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}
