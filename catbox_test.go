package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertUserRejectsDuplicateNick(t *testing.T) {
	cb := newTestCatbox()
	newTestLocalUser(cb, "alice")

	dup := &User{UID: "1ZZZZZZ", DisplayNick: "Alice", Modes: map[byte]struct{}{}}
	err := cb.insertUser(dup)
	assert.ErrorIs(t, err, ErrDuplicateName, "nick lookup folds case")
}

func TestRenameUserMovesNickTableEntry(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	assert.NoError(t, cb.renameUser(u, "alicia"))

	_, found := cb.findUser("alice")
	assert.False(t, found)

	found2, ok := cb.findUser("alicia")
	assert.True(t, ok)
	assert.Same(t, u, found2)
}

func TestRenameUserRejectsCollision(t *testing.T) {
	cb := newTestCatbox()
	newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")

	err := cb.renameUser(bob, "ALICE")
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestRemoveUserClearsAllTables(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")
	u.setMode(cb, 'o', true)
	assert.Len(t, cb.Opers, 1)

	cb.removeUser(u)

	_, found := cb.findUser("alice")
	assert.False(t, found)
	_, found = cb.findUserByUID(u.UID)
	assert.False(t, found)
	assert.Len(t, cb.Opers, 0)
}

func TestInsertAndRemoveChannel(t *testing.T) {
	cb := newTestCatbox()
	ch := newChannel("#test", 1)
	assert.NoError(t, cb.insertChannel(ch))

	_, ok := cb.findChannel("#TEST")
	assert.True(t, ok, "channel lookup folds case")

	cb.removeChannel(ch)
	_, ok = cb.findChannel("#test")
	assert.False(t, ok)
}

func TestIsLinkedToServer(t *testing.T) {
	cb := newTestCatbox()
	cb.ServersByName[fold("hub.example")] = &Server{Name: "hub.example"}

	assert.True(t, cb.isLinkedToServer("HUB.EXAMPLE"))
	assert.False(t, cb.isLinkedToServer("unknown.example"))
}
