package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID("brd")
	assert.True(t, strings.HasPrefix(id, "brd_"))
	assert.Len(t, id, len("brd_")+32)
	assert.NotEqual(t, id, NewID("brd"))
	assert.Len(t, NewID(""), 32)
}
