package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegStateString(t *testing.T) {
	assert.Equal(t, "new", RegNew.String())
	assert.Equal(t, "registered", RegRegistered.String())
	assert.Equal(t, "unknown", RegState(99).String())
}

func TestUserJoinRejectsDuplicateAndOverflow(t *testing.T) {
	u := &User{DisplayNick: "alice"}
	ch := newChannel("#a", 1)

	assert.NoError(t, u.join(ch, StatusFounder))
	assert.ErrorIs(t, u.join(ch, 0), ErrAlreadyJoined)

	for i := 0; i < MaxChans-1; i++ {
		other := newChannel("#x", int64(i))
		assert.NoError(t, u.join(other, 0))
	}
	overflow := newChannel("#overflow", 999)
	assert.ErrorIs(t, u.join(overflow, 0), ErrTooManyChannels)
}

func TestUserPartRemovesOnlyTheGivenChannel(t *testing.T) {
	u := &User{DisplayNick: "alice"}
	a := newChannel("#a", 1)
	b := newChannel("#b", 2)
	assert.NoError(t, u.join(a, 0))
	assert.NoError(t, u.join(b, 0))

	u.part(a)

	_, onA := u.onChannel(a)
	_, onB := u.onChannel(b)
	assert.False(t, onA)
	assert.True(t, onB)
}

func TestSetModeTracksOperIndex(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	u.setMode(cb, 'o', true)
	assert.True(t, u.isOperator())
	_, tracked := cb.Opers[u.UID]
	assert.True(t, tracked)

	u.setMode(cb, 'o', false)
	assert.False(t, u.isOperator())
	_, tracked = cb.Opers[u.UID]
	assert.False(t, tracked)
}

func TestSetModeIsIdempotent(t *testing.T) {
	u := &User{Modes: map[byte]struct{}{}}
	cb := newTestCatbox()

	u.setMode(cb, 'i', true)
	u.setMode(cb, 'i', true)
	assert.Len(t, u.Modes, 1)

	u.setMode(cb, 'w', false)
	assert.Len(t, u.Modes, 1, "clearing a mode that was never set is a no-op")
}

func TestUserStringFormatsPrefix(t *testing.T) {
	u := &User{DisplayNick: "alice", Username: "al", DispHost: "host.example"}
	assert.Equal(t, "alice!al@host.example", u.String())
}

func TestUserWriteIsSilentForRemoteUsers(t *testing.T) {
	u := &User{DisplayNick: "remote"}
	assert.NotPanics(t, func() { u.write("anything") })
}
