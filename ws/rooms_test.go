package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomStoreMembership(t *testing.T) {
	rs := newRoomStore()
	a := &Handler{}
	b := &Handler{}

	assert.False(t, rs.occupied("r1"))
	assert.Empty(t, rs.members("r1"))

	rs.join("r1", a)
	rs.join("r1", b)
	assert.True(t, rs.occupied("r1"))
	assert.Len(t, rs.members("r1"), 2)

	// Joining twice does not duplicate membership.
	rs.join("r1", a)
	assert.Len(t, rs.members("r1"), 2)

	rs.leave("r1", a)
	assert.Len(t, rs.members("r1"), 1)

	rs.leave("r1", b)
	assert.False(t, rs.occupied("r1"))

	// Leaving a room that was never joined is harmless.
	rs.leave("nope", a)
}
