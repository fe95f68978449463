package cartsync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewSession(t *testing.T) {
	s := NewSession("")
	_, err := uuid.Parse(s.ID())
	assert.NoError(t, err)
	assert.False(t, s.Authenticated())

	s = NewSession("device-1")
	assert.Equal(t, "device-1", s.ID())

	s.setToken("token-1")
	assert.True(t, s.Authenticated())
	assert.Equal(t, "token-1", s.Token())

	s.setToken("")
	assert.False(t, s.Authenticated())
}
