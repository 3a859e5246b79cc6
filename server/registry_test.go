package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOrderAndDrain(t *testing.T) {
	r := NewRegistry()
	for _, id := range []uint32{7, 3, 9} {
		r.Add(NewSession(id, &fakePeer{}, "o", ""))
	}
	r.Add(NewSession(3, &fakePeer{}, "o", ""))

	require.Equal(t, 3, r.Len())
	var ids []uint32
	for _, s := range r.Sessions() {
		ids = append(ids, s.Player.ID)
	}
	assert.Equal(t, []uint32{7, 3, 9}, ids)
	assert.Equal(t, []uint32{7, 3, 9}, r.Joined())

	r.Drain()
	assert.Empty(t, r.Joined())

	_, ok := r.Remove(3)
	require.True(t, ok)
	_, ok = r.Remove(3)
	assert.False(t, ok)
	assert.Equal(t, []uint32{3}, r.Left())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryJoinLeaveSameTick(t *testing.T) {
	r := NewRegistry()
	r.Add(NewSession(1, &fakePeer{}, "o", ""))
	r.Add(NewSession(2, &fakePeer{}, "o", ""))
	r.RecordPing(2, 99)

	s, ok := r.Remove(2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), s.Player.ID)
	assert.Equal(t, []uint32{1}, r.Joined())
	assert.Empty(t, r.Left())
	assert.Empty(t, r.Pings())
}

func TestRegistryPings(t *testing.T) {
	r := NewRegistry()
	r.Add(NewSession(1, &fakePeer{}, "o", ""))
	r.RecordPing(1, 5)
	r.RecordPing(1, 6)
	r.RecordPing(42, 7)

	assert.Equal(t, map[uint32]uint32{1: 6}, r.Pings())
	r.Drain()
	assert.Empty(t, r.Pings())
}
