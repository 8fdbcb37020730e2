package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandTableRejectsDuplicateName(t *testing.T) {
	tbl := newCommandTable()
	assert.NoError(t, tbl.register(&CommandDescriptor{Name: "PRIVMSG", Handler: func(*Catbox, *User, []string) {}}))
	err := tbl.register(&CommandDescriptor{Name: "privmsg", Handler: func(*Catbox, *User, []string) {}})
	assert.ErrorIs(t, err, ErrDuplicateName, "registration folds the name, so case variants collide")
}

func TestCommandTableUnregister(t *testing.T) {
	tbl := newCommandTable()
	assert.NoError(t, tbl.register(&CommandDescriptor{Name: "PING", Handler: func(*Catbox, *User, []string) {}}))
	tbl.unregister("ping")

	_, ok := tbl.lookup("PING")
	assert.False(t, ok)
}

func drainLine(t *testing.T, u *User) string {
	t.Helper()
	select {
	case line := <-u.LocalUser.WriteChan:
		return line
	default:
		return ""
	}
}

func TestDispatchLineUnknownCommandSendsNumeric(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	cb.dispatchLine(u, "FROBNICATE foo")

	assert.Contains(t, drainLine(t, u), "421")
}

func TestDispatchLineEnforcesMinParams(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	cb.dispatchLine(u, "JOIN")

	assert.Contains(t, drainLine(t, u), "461")
}

func TestDispatchLineEnforcesRequiredMode(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	cb.dispatchLine(u, "KLINE *@bad.example :no reason")

	assert.Contains(t, drainLine(t, u), "481")
}

func TestDispatchLineDropsNonPreRegCommandsBeforeRegistration(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")
	u.RegState = RegGotNick

	called := false
	_ = cb.Commands.register(&CommandDescriptor{
		Name:      "ZZZTEST",
		MinParams: 0,
		Handler:   func(*Catbox, *User, []string) { called = true },
	})

	cb.dispatchLine(u, "ZZZTEST")

	assert.False(t, called, "a non-allowlisted command must be silently dropped pre-registration")
}

func TestDispatchLineRunsHandlerAndUpdatesStats(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")

	called := false
	desc := &CommandDescriptor{
		Name:      "ZZZTEST",
		MinParams: 0,
		Handler:   func(*Catbox, *User, []string) { called = true },
	}
	assert.NoError(t, cb.Commands.register(desc))

	cb.dispatchLine(u, "ZZZTEST")

	assert.True(t, called)
	assert.Equal(t, uint64(1), desc.UseCount)
	assert.Equal(t, uint64(1), cb.Stats.Commands)
}
