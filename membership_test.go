package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestCatbox() *Catbox {
	cb := NewCatbox(Config{
		ServerName:    "test.example",
		ServerInfo:    "test network",
		MaxNickLength: 30,
	})
	return cb
}

func newTestLocalUser(cb *Catbox, nick string) *User {
	lc := NewLocalClient(cb, Conn{})
	lu := NewLocalUser(lc)
	u := &User{
		UID:         nick + "AAAAAA",
		DisplayNick: nick,
		Username:    "user",
		RealHost:    "host",
		DispHost:    "host",
		Modes:       map[byte]struct{}{},
		RegState:    RegRegistered,
		ServerName:  cb.Config.ServerName,
		LocalUser:   lu,
	}
	lu.User = u
	_ = cb.insertUser(u)
	return u
}

func TestJoinUserToChannelCreatesFounder(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	err := joinUserToChannel(cb, u, "#test", "")
	assert.NoError(t, err)

	ch, ok := cb.findChannel("#test")
	assert.True(t, ok)

	status, ok := ch.memberStatus(u)
	assert.True(t, ok)
	assert.Equal(t, StatusFounder|StatusOp, status)
}

func TestJoinUserToChannelRejectsBadName(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	err := joinUserToChannel(cb, u, "not-a-channel", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPartRemovesChannelWhenEmpty(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")
	assert.NoError(t, joinUserToChannel(cb, u, "#test", ""))

	ch, _ := cb.findChannel("#test")
	partUserFromChannel(cb, u, ch, "bye")

	_, ok := cb.findChannel("#test")
	assert.False(t, ok, "channel should be destroyed once its last member parts")
	_, onChan := u.onChannel(ch)
	assert.False(t, onChan)
}

func TestJoinRespectsChannelLimit(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	assert.NoError(t, joinUserToChannel(cb, alice, "#test", ""))

	ch, _ := cb.findChannel("#test")
	ch.Limit = 1
	ch.Simple |= ModeLimit

	bob := newTestLocalUser(cb, "bob")
	err := joinUserToChannel(cb, bob, "#test", "")
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestQuitUserRemovesFromAllChannels(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	assert.NoError(t, joinUserToChannel(cb, alice, "#a", ""))
	assert.NoError(t, joinUserToChannel(cb, alice, "#b", ""))

	quitUser(cb, alice, "leaving")

	_, okA := cb.findChannel("#a")
	_, okB := cb.findChannel("#b")
	assert.False(t, okA)
	assert.False(t, okB)

	_, found := cb.findUser("alice")
	assert.False(t, found)
}
