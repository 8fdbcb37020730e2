package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeMaskSatisfiedAny(t *testing.T) {
	u := &User{Modes: map[byte]struct{}{'o': {}}}
	assert.True(t, modeMaskSatisfied(u, "io", MatchAny))
	assert.False(t, modeMaskSatisfied(u, "iw", MatchAny))
}

func TestModeMaskSatisfiedAll(t *testing.T) {
	u := &User{Modes: map[byte]struct{}{'o': {}, 'i': {}}}
	assert.True(t, modeMaskSatisfied(u, "io", MatchAll))
	assert.False(t, modeMaskSatisfied(u, "iow", MatchAll))
}

func TestModeMaskSatisfiedEmptyLettersNeverMatches(t *testing.T) {
	u := &User{Modes: map[byte]struct{}{'o': {}}}
	assert.False(t, modeMaskSatisfied(u, "", MatchAny))
	assert.False(t, modeMaskSatisfied(u, "", MatchAll))
}

func TestCommonLocalUsersDedupsAcrossSharedChannels(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")
	assert.NoError(t, joinUserToChannel(cb, alice, "#a", ""))
	assert.NoError(t, joinUserToChannel(cb, bob, "#a", ""))
	assert.NoError(t, joinUserToChannel(cb, alice, "#b", ""))
	assert.NoError(t, joinUserToChannel(cb, bob, "#b", ""))

	others := commonLocalUsers(alice, false)
	assert.Len(t, others, 1, "bob should appear exactly once despite sharing two channels")
	assert.Equal(t, "bob", others[0].DisplayNick)
}

func TestCommonLocalUsersIncludesSelfWhenRequested(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")

	withSelf := commonLocalUsers(alice, true)
	assert.Len(t, withSelf, 1)
	assert.Equal(t, "alice", withSelf[0].DisplayNick)

	withoutSelf := commonLocalUsers(alice, false)
	assert.Len(t, withoutSelf, 0)
}

func TestCommonLocalUsersSkipsRemote(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	assert.NoError(t, joinUserToChannel(cb, alice, "#a", ""))

	remote := &User{UID: "2REMOTE0", DisplayNick: "remote"}
	ch, _ := cb.findChannel("#a")
	ch.addMember(remote, 0)

	others := commonLocalUsers(alice, false)
	assert.Len(t, others, 0, "remote users have no local socket to fan out to")
}
