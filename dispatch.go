package main

import (
	"fmt"

	"github.com/horgh/irc"
)

// CommandHandler is the shape every registered command's body takes.
// Leaf handler bodies are out of scope for this core (their RFC
// 1459/2812 semantics are specified elsewhere); this type is the
// contract the dispatcher calls them under.
type CommandHandler func(cb *Catbox, u *User, params []string)

// CommandDescriptor is one row of the command table.
type CommandDescriptor struct {
	Name         string // folded on registration
	Handler      CommandHandler
	RequiredMode byte // '0' = none
	MinParams    int
	Source       string // "<core>" or a module name

	UseCount   uint64
	TotalBytes uint64
}

// CommandTable is the ordered, additive registry of command
// descriptors. Order is preserved for deterministic MODULES/command
// listings; duplicate names are rejected on insert.
type CommandTable struct {
	order []*CommandDescriptor
	byName map[string]*CommandDescriptor
}

func newCommandTable() *CommandTable {
	return &CommandTable{byName: map[string]*CommandDescriptor{}}
}

func (t *CommandTable) register(d *CommandDescriptor) error {
	key := fold(d.Name)
	if _, exists := t.byName[key]; exists {
		return fmt.Errorf("register command %s: %w", d.Name, ErrDuplicateName)
	}
	if d.RequiredMode == 0 {
		d.RequiredMode = '0'
	}
	t.byName[key] = d
	t.order = append(t.order, d)
	return nil
}

func (t *CommandTable) unregister(name string) {
	key := fold(name)
	delete(t.byName, key)
	for i, d := range t.order {
		if fold(d.Name) == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func (t *CommandTable) lookup(name string) (*CommandDescriptor, bool) {
	d, ok := t.byName[fold(name)]
	return d, ok
}

// preRegAllowed is the set of commands accepted before a user
// reaches RegRegistered. Anything else is silently dropped rather
// than answered with 421, per the dispatch contract.
//
// dispatchLine only ever sees a *User once it already has a UID,
// which happens at the same point RegState becomes RegRegistered
// (LocalUser.tryCompleteRegistration in local_user.go) — so this gate
// is currently always true in practice. NICK/USER/PASS/PING/QUIT
// before a UID exists are instead handled by
// LocalUser.handlePreRegLine, which accumulates PreRegNick/PreRegUser
// on the connection itself rather than on a *User record, since there
// is nothing to hang RegState/Modes/Channels off of yet. This map
// stays correctly keyed (not dead weight to delete) for the day a
// gating module (ident lookup, SASL, a DNSBL check) needs
// OnCheckReady to hold a half-built *User and re-drive it through this
// same path.
var preRegAllowed = map[string]bool{
	"nick": true, "user": true, "pass": true, "ping": true,
	"pong": true, "quit": true, "server": true, "capab": true,
	"svinfo": true, "error": true,
}

// dispatchLine runs the full dispatch contract for one inbound line
// from local user u: parse, fold, look up, check privilege and
// arity, run the pre-command hook, call the handler, update stats,
// run the post-command hook.
//
// Handlers run to completion synchronously; dispatchLine is always
// called from the single dispatch goroutine, one line at a time, so
// there is never a second line from the same (or any other) user
// in flight concurrently with this one.
func (cb *Catbox) dispatchLine(u *User, line string) {
	msg, err := irc.ParseMessage(line + "\r\n")
	if err != nil {
		return
	}
	if len(msg.Command) == 0 {
		return
	}

	cmdName := msg.Command
	desc, ok := cb.Commands.lookup(cmdName)
	if !ok {
		if u.RegState == RegRegistered {
			u.write(cb.numeric(ErrUnknownCommand, u.DisplayNick, cmdName+" :Unknown command"))
		}
		return
	}

	if u.RegState != RegRegistered && !preRegAllowed[fold(cmdName)] {
		return
	}

	if desc.RequiredMode != '0' {
		if _, ok := u.Modes[desc.RequiredMode]; !ok {
			u.write(fmt.Sprintf(":%s 481 %s :Permission denied", cb.Config.ServerName, u.DisplayNick))
			return
		}
	}

	if len(msg.Params) < desc.MinParams {
		u.write(fmt.Sprintf(":%s 461 %s %s :Not enough parameters", cb.Config.ServerName, u.DisplayNick, cmdName))
		return
	}

	if cb.Modules.runPreCommand(cb, u, cmdName, msg.Params) == Halt {
		return
	}

	desc.Handler(cb, u, msg.Params)
	desc.UseCount++
	desc.TotalBytes += uint64(len(line))
	cb.Stats.Commands++

	cb.Modules.runPostCommand(cb, u, cmdName, msg.Params)
}
