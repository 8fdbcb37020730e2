package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelRenderModesOrder(t *testing.T) {
	ch := newChannel("#test", 100)
	ch.Simple = ModeModerated | ModeTopicLock | ModeKey
	ch.Key = "secret"

	flags, params := ch.renderModes()

	// Canonical order is n,t,k,l,i,m,s,p regardless of set order.
	assert.Equal(t, "+tkm", flags)
	assert.Equal(t, []string{"secret"}, params)
}

func TestChannelAddRemoveMember(t *testing.T) {
	ch := newChannel("#test", 100)
	u := &User{UID: "1ABAAAAAA", DisplayNick: "alice"}

	ch.addMember(u, StatusFounder|StatusOp)
	status, ok := ch.memberStatus(u)
	assert.True(t, ok)
	assert.Equal(t, StatusFounder|StatusOp, status)

	empty := ch.removeMember(u)
	assert.True(t, empty, "channel should be empty after removing its only member")

	_, ok = ch.memberStatus(u)
	assert.False(t, ok)
}

func TestChannelMembersSortedByNick(t *testing.T) {
	ch := newChannel("#test", 100)
	carol := &User{UID: "1", DisplayNick: "carol"}
	alice := &User{UID: "2", DisplayNick: "alice"}
	bob := &User{UID: "3", DisplayNick: "bob"}

	ch.addMember(carol, 0)
	ch.addMember(alice, 0)
	ch.addMember(bob, 0)

	names := []string{}
	for _, u := range ch.members() {
		names = append(names, u.DisplayNick)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
}
