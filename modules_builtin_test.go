package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperjoinModuleJoinsConfiguredChannel(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")
	m := &operjoinModule{channel: "#opers"}

	m.OnOper(cb, u)

	_, onChan := u.onChannel(mustFindChannel(t, cb, "#opers"))
	assert.True(t, onChan)
}

func TestOperjoinModuleIsNoopWhenUnconfigured(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")
	m := &operjoinModule{channel: ""}

	m.OnOper(cb, u)

	_, exists := cb.findChannel("#opers")
	assert.False(t, exists)
}

func TestSajoinCommandForceJoinsTargetAndNotifiesOpers(t *testing.T) {
	cb := newTestCatbox()
	oper := newTestLocalUser(cb, "alice")
	oper.setMode(cb, 'o', true)
	target := newTestLocalUser(cb, "bob")

	sajoinCommand(cb, oper, []string{"bob", "#lounge"})

	_, onChan := target.onChannel(mustFindChannel(t, cb, "#lounge"))
	assert.True(t, onChan)
}

func TestSajoinCommandRejectsInvalidChannelName(t *testing.T) {
	cb := newTestCatbox()
	oper := newTestLocalUser(cb, "alice")
	oper.setMode(cb, 'o', true)
	target := newTestLocalUser(cb, "bob")

	sajoinCommand(cb, oper, []string{"bob", "not a channel"})

	_, exists := cb.findChannel("not a channel")
	assert.False(t, exists)
	assert.Len(t, target.Channels, 0)
}

func mustFindChannel(t *testing.T, cb *Catbox, name string) *Channel {
	ch, ok := cb.findChannel(name)
	if !ok {
		t.Fatalf("expected channel %s to exist", name)
	}
	return ch
}
