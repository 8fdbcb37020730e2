package main

import "fmt"

// moduleFactories names every module this binary can load, keyed by
// module name. A factory registers the module (and any commands it
// provides) on the given Catbox; LOADMODULE looks modules up here,
// the compiled-in rendition of scanning a modules directory for .so
// files.
var moduleFactories = map[string]func(cb *Catbox){
	"operjoin": func(cb *Catbox) {
		cb.Modules.register(&operjoinModule{channel: cb.Config.OperJoinChannel})
	},
	"sajoin": func(cb *Catbox) {
		sajoin := &sajoinModule{}
		cb.Modules.register(sajoin)
		sajoin.registerCommand(cb)
	},
}

// registerBuiltinModules loads the modules this daemon ships with
// out of the box.
func registerBuiltinModules(cb *Catbox) {
	moduleFactories["operjoin"](cb)
	moduleFactories["sajoin"](cb)
}

// operjoinModule forces opers into a configured channel on OPER.
type operjoinModule struct {
	BaseModule
	channel string
}

func (m *operjoinModule) Name() string { return "operjoin" }

func (m *operjoinModule) OnOper(cb *Catbox, u *User) Decision {
	if m.channel == "" {
		return Continue
	}
	_ = joinUserToChannel(cb, u, m.channel, "")
	return Continue
}

// sajoinModule registers SAJOIN <nick> <channel>, an oper command
// that force-joins another user to a channel and announces the
// action to opers.
type sajoinModule struct {
	BaseModule
}

func (m *sajoinModule) Name() string { return "sajoin" }

func (m *sajoinModule) registerCommand(cb *Catbox) {
	_ = cb.AddCommand(&CommandDescriptor{
		Name:         "SAJOIN",
		Handler:      sajoinCommand,
		RequiredMode: 'o',
		MinParams:    2,
		Source:       "sajoin",
	})
}

func sajoinCommand(cb *Catbox, u *User, params []string) {
	target, ok := cb.findUser(params[0])
	if !ok {
		u.write(fmt.Sprintf(":%s 401 %s %s :No such nick", cb.Config.ServerName, u.DisplayNick, params[0]))
		return
	}

	channelName := params[1]
	if len(channelName) == 0 || channelName[0] != '#' {
		u.write(fmt.Sprintf(":%s NOTICE %s :*** Invalid characters in channel name", cb.Config.ServerName, u.DisplayNick))
		return
	}
	for i := 0; i < len(channelName); i++ {
		if channelName[i] == ' ' || channelName[i] == ',' {
			u.write(fmt.Sprintf(":%s NOTICE %s :*** Invalid characters in channel name", cb.Config.ServerName, u.DisplayNick))
			return
		}
	}

	cb.writeOpers(fmt.Sprintf("%s used SAJOIN to make %s join %s", u.DisplayNick, target.DisplayNick, channelName))
	_ = joinUserToChannel(cb, target, channelName, "")
}
