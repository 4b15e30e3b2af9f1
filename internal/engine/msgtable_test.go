package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMsgTableSetOverwritesAndChangesOwner(t *testing.T) {
	mt := NewMsgTable()
	c1 := &Connection{}
	c2 := &Connection{}

	mt.Set("K", "hello world", c1)
	text, ok := mt.Get("K")
	assert.True(t, ok)
	assert.Equal(t, "hello world", text)

	mt.Set("K", "bye", c2)
	text, ok = mt.Get("K")
	assert.True(t, ok)
	assert.Equal(t, "bye", text)
	assert.Same(t, c2, mt.entries["K"].owner)
}

func TestMsgTableGetAbsentIsReadOnly(t *testing.T) {
	mt := NewMsgTable()
	_, ok := mt.Get("missing")
	assert.False(t, ok)
	assert.Len(t, mt.entries, 0)
}

func TestMsgTableReleaseOnlyByCurrentOwner(t *testing.T) {
	mt := NewMsgTable()
	c1 := &Connection{}
	c2 := &Connection{}

	mt.Set("K", "hello", c1)

	// A stale owner's release is a no-op once another writer has taken over.
	mt.Set("K", "overwritten", c2)
	mt.Release("K", c1)
	text, ok := mt.Get("K")
	assert.True(t, ok)
	assert.Equal(t, "overwritten", text)

	mt.Release("K", c2)
	_, ok = mt.Get("K")
	assert.False(t, ok)
}

func TestMsgTableReleaseAbsentIsNoop(t *testing.T) {
	mt := NewMsgTable()
	mt.Release("missing", &Connection{})
	assert.Len(t, mt.entries, 0)
}
