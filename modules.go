package main

// Decision is what a module hook returns, honored by the core at
// the call site.
type Decision int

const (
	// Continue lets dispatch/fanout proceed normally and keeps
	// running the remaining hooks registered for this event.
	Continue Decision = iota
	// Halt aborts the action the hook was called for, with no error
	// emitted by the core — the module is expected to have sent its
	// own response if one is warranted. Remaining hooks for this call
	// are skipped.
	Halt
	// Passthru is for observe-only hooks: it never stops the action
	// or the remaining hooks, it's just a distinct return value from
	// Continue for hooks that want to signal "I looked, I did not
	// act" for logging/testing purposes.
	Passthru
)

// Module is the interface an extension implements. Every method is
// optional in spirit: the provided baseModule embeds default
// Continue/true implementations so a module only needs to override
// the hooks it cares about.
type Module interface {
	Name() string

	OnUserConnect(cb *Catbox, u *User) Decision
	OnUserQuit(cb *Catbox, u *User, reason string) Decision
	OnChannelCreate(cb *Catbox, ch *Channel) Decision
	OnJoin(cb *Catbox, u *User, ch *Channel) Decision
	OnPart(cb *Catbox, u *User, ch *Channel) Decision
	OnKick(cb *Catbox, source, target *User, ch *Channel, reason string) Decision
	OnModeChange(cb *Catbox, u *User, target string, modes string) Decision
	OnTopicChange(cb *Catbox, u *User, ch *Channel, topic string) Decision
	OnPreCommand(cb *Catbox, u *User, cmd string, params []string) Decision
	OnPostCommand(cb *Catbox, u *User, cmd string, params []string) Decision
	OnRawSocketRead(cb *Catbox, lc *LocalClient, line string) Decision
	OnRawSocketWrite(cb *Catbox, lc *LocalClient, line string) Decision
	OnOper(cb *Catbox, u *User) Decision
	OnCheckReady(cb *Catbox, u *User) bool
	OnPacketTransmit(cb *Catbox, ls *LocalServer, line string) Decision
}

// BaseModule gives every hook a Continue/true default so a concrete
// module can embed it and override only the hooks it needs.
type BaseModule struct{}

func (BaseModule) OnUserConnect(*Catbox, *User) Decision                            { return Continue }
func (BaseModule) OnUserQuit(*Catbox, *User, string) Decision                       { return Continue }
func (BaseModule) OnChannelCreate(*Catbox, *Channel) Decision                       { return Continue }
func (BaseModule) OnJoin(*Catbox, *User, *Channel) Decision                         { return Continue }
func (BaseModule) OnPart(*Catbox, *User, *Channel) Decision                         { return Continue }
func (BaseModule) OnKick(*Catbox, *User, *User, *Channel, string) Decision          { return Continue }
func (BaseModule) OnModeChange(*Catbox, *User, string, string) Decision             { return Continue }
func (BaseModule) OnTopicChange(*Catbox, *User, *Channel, string) Decision          { return Continue }
func (BaseModule) OnPreCommand(*Catbox, *User, string, []string) Decision           { return Continue }
func (BaseModule) OnPostCommand(*Catbox, *User, string, []string) Decision          { return Continue }
func (BaseModule) OnRawSocketRead(*Catbox, *LocalClient, string) Decision           { return Continue }
func (BaseModule) OnRawSocketWrite(*Catbox, *LocalClient, string) Decision          { return Continue }
func (BaseModule) OnOper(*Catbox, *User) Decision                                   { return Continue }
func (BaseModule) OnCheckReady(*Catbox, *User) bool                                 { return true }
func (BaseModule) OnPacketTransmit(*Catbox, *LocalServer, string) Decision          { return Continue }

// ModuleHost is the event bus: a registration-ordered list of
// loaded modules. Each hook call iterates the list in order and
// short-circuits on the first Halt.
type ModuleHost struct {
	modules []Module
}

func newModuleHost() *ModuleHost {
	return &ModuleHost{}
}

// register loads a module. Modules here are compiled in and
// registered at process start — the idiomatic Go rendition of
// "dynamically loaded extension": no dlopen, but the same contract
// (a self-contained unit registering hooks without the core knowing
// its concrete type ahead of time).
func (h *ModuleHost) register(m Module) {
	h.modules = append(h.modules, m)
}

// unregister unloads a module by name, reporting whether it was
// loaded. Commands the module registered (Source == module name) are
// removed with it, per the command table's unload contract.
func (h *ModuleHost) unregister(cb *Catbox, name string) bool {
	for i, m := range h.modules {
		if m.Name() != name {
			continue
		}
		h.modules = append(h.modules[:i], h.modules[i+1:]...)
		var stale []string
		for _, d := range cb.Commands.order {
			if d.Source == name {
				stale = append(stale, d.Name)
			}
		}
		for _, cmd := range stale {
			cb.Commands.unregister(cmd)
		}
		return true
	}
	return false
}

func (h *ModuleHost) find(name string) (Module, bool) {
	for _, m := range h.modules {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

func (h *ModuleHost) runPreCommand(cb *Catbox, u *User, cmd string, params []string) Decision {
	for _, m := range h.modules {
		if d := m.OnPreCommand(cb, u, cmd, params); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runPostCommand(cb *Catbox, u *User, cmd string, params []string) {
	for _, m := range h.modules {
		m.OnPostCommand(cb, u, cmd, params)
	}
}

func (h *ModuleHost) runOper(cb *Catbox, u *User) Decision {
	for _, m := range h.modules {
		if d := m.OnOper(cb, u); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runJoin(cb *Catbox, u *User, ch *Channel) Decision {
	for _, m := range h.modules {
		if d := m.OnJoin(cb, u, ch); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runPart(cb *Catbox, u *User, ch *Channel) Decision {
	for _, m := range h.modules {
		if d := m.OnPart(cb, u, ch); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runKick(cb *Catbox, source, target *User, ch *Channel, reason string) Decision {
	for _, m := range h.modules {
		if d := m.OnKick(cb, source, target, ch, reason); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runModeChange(cb *Catbox, u *User, target string, modes string) Decision {
	for _, m := range h.modules {
		if d := m.OnModeChange(cb, u, target, modes); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runTopicChange(cb *Catbox, u *User, ch *Channel, topic string) Decision {
	for _, m := range h.modules {
		if d := m.OnTopicChange(cb, u, ch, topic); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runUserConnect(cb *Catbox, u *User) {
	for _, m := range h.modules {
		m.OnUserConnect(cb, u)
	}
}

// runRawSocketRead gives modules first sight of every inbound line,
// before classification or dispatch. Halt drops the line.
func (h *ModuleHost) runRawSocketRead(cb *Catbox, lc *LocalClient, line string) Decision {
	for _, m := range h.modules {
		if d := m.OnRawSocketRead(cb, lc, line); d == Halt {
			return Halt
		}
	}
	return Continue
}

// runRawSocketWrite gives modules last sight of every outbound line.
// Halt suppresses the write to this one recipient only.
func (h *ModuleHost) runRawSocketWrite(cb *Catbox, lc *LocalClient, line string) Decision {
	for _, m := range h.modules {
		if d := m.OnRawSocketWrite(cb, lc, line); d == Halt {
			return Halt
		}
	}
	return Continue
}

func (h *ModuleHost) runUserQuit(cb *Catbox, u *User, reason string) {
	for _, m := range h.modules {
		m.OnUserQuit(cb, u, reason)
	}
}

func (h *ModuleHost) runChannelCreate(cb *Catbox, ch *Channel) {
	for _, m := range h.modules {
		m.OnChannelCreate(cb, ch)
	}
}

// runCheckReady polls every loaded module's OnCheckReady. A user may
// be promoted to RegRegistered only once every module returns true.
func (h *ModuleHost) runCheckReady(cb *Catbox, u *User) bool {
	for _, m := range h.modules {
		if !m.OnCheckReady(cb, u) {
			return false
		}
	}
	return true
}

func (h *ModuleHost) runPacketTransmit(cb *Catbox, ls *LocalServer, line string) Decision {
	for _, m := range h.modules {
		if d := m.OnPacketTransmit(cb, ls, line); d == Halt {
			return Halt
		}
	}
	return Continue
}

// ModuleAPI is the narrowed façade the core hands to modules instead
// of the full Catbox, so a module cannot reach into internals it
// shouldn't. Modules must re-resolve User/Channel by name/UID on
// every callback rather than caching the pointer they were handed,
// since the core may have destroyed the record in between calls.
type ModuleAPI interface {
	SendTo(u *User, line string)
	JoinUserToChannel(u *User, channelName string) error
	SendOpers(text string)
	AddCommand(desc *CommandDescriptor) error
	FindNick(nick string) (*User, bool)
}

func (cb *Catbox) SendTo(u *User, line string) {
	u.write(line)
}

func (cb *Catbox) JoinUserToChannel(u *User, channelName string) error {
	return joinUserToChannel(cb, u, channelName, "")
}

func (cb *Catbox) SendOpers(text string) {
	cb.writeOpers(text)
}

func (cb *Catbox) AddCommand(desc *CommandDescriptor) error {
	return cb.Commands.register(desc)
}

func (cb *Catbox) FindNick(nick string) (*User, bool) {
	return cb.findUser(nick)
}
