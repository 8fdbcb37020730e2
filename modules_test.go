package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type haltingModule struct {
	BaseModule
	name string
}

func (m haltingModule) Name() string { return m.name }

func (m haltingModule) OnPreCommand(*Catbox, *User, string, []string) Decision {
	return Halt
}

func (m haltingModule) OnJoin(*Catbox, *User, *Channel) Decision {
	return Halt
}

type observingModule struct {
	BaseModule
	name     string
	oper     int
	postSeen int
}

func (m *observingModule) Name() string { return m.name }

func (m *observingModule) OnOper(*Catbox, *User) Decision {
	m.oper++
	return Continue
}

func (m *observingModule) OnPostCommand(*Catbox, *User, string, []string) Decision {
	m.postSeen++
	return Continue
}

func TestModuleHostRunPreCommandShortCircuitsOnHalt(t *testing.T) {
	h := newModuleHost()
	observer := &observingModule{name: "observer"}
	h.register(observer)
	h.register(haltingModule{name: "halter"})

	d := h.runPreCommand(nil, nil, "PRIVMSG", nil)
	assert.Equal(t, Halt, d)
}

func TestModuleHostRunJoinHalt(t *testing.T) {
	h := newModuleHost()
	h.register(haltingModule{name: "halter"})

	d := h.runJoin(nil, nil, nil)
	assert.Equal(t, Halt, d)
}

func TestModuleHostRunOperCallsEveryModule(t *testing.T) {
	h := newModuleHost()
	first := &observingModule{name: "first"}
	second := &observingModule{name: "second"}
	h.register(first)
	h.register(second)

	d := h.runOper(nil, nil)
	assert.Equal(t, Continue, d)
	assert.Equal(t, 1, first.oper)
	assert.Equal(t, 1, second.oper)
}

func TestModuleHostUnregister(t *testing.T) {
	cb := newTestCatbox()
	h := newModuleHost()
	h.register(haltingModule{name: "halter"})
	assert.True(t, h.unregister(cb, "halter"))

	d := h.runJoin(nil, nil, nil)
	assert.Equal(t, Continue, d, "unregistered module's Halt should no longer apply")

	assert.False(t, h.unregister(cb, "halter"), "second unregister finds nothing")
}

func TestModuleHostUnregisterRemovesModuleCommands(t *testing.T) {
	cb := newTestCatbox()

	_, ok := cb.Commands.lookup("SAJOIN")
	assert.True(t, ok, "sajoin registers its command at load")

	assert.True(t, cb.Modules.unregister(cb, "sajoin"))

	_, ok = cb.Commands.lookup("SAJOIN")
	assert.False(t, ok, "unload removes the module's commands")
}

func TestModuleHostRunCheckReadyRequiresAllTrue(t *testing.T) {
	h := newModuleHost()
	assert.True(t, h.runCheckReady(nil, nil), "no modules registered means vacuously ready")

	h.register(&operjoinModule{channel: ""})
	assert.True(t, h.runCheckReady(nil, nil), "operjoinModule doesn't override OnCheckReady, so BaseModule's default applies")
}

func TestModuleAPIFindNick(t *testing.T) {
	cb := newTestCatbox()
	newTestLocalUser(cb, "alice")

	u, ok := cb.FindNick("ALICE")
	assert.True(t, ok, "FindNick should fold case")
	assert.Equal(t, "alice", u.DisplayNick)

	_, ok = cb.FindNick("bob")
	assert.False(t, ok)
}
