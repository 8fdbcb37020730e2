package main

import (
	"fmt"
	"strings"
	"time"
)

// LocalUser is a local client connection that has identified itself
// as (or is in the process of becoming) a user, as opposed to a peer
// server.
type LocalUser struct {
	*LocalClient
	User *User

	LastActivityTime time.Time
	LastPingTime     time.Time
	LastMessageTime  time.Time
}

func NewLocalUser(lc *LocalClient) *LocalUser {
	now := time.Now()
	return &LocalUser{
		LocalClient:      lc,
		LastActivityTime: now,
		LastPingTime:     now,
		LastMessageTime:  now,
	}
}

// handleLine is the entry point called by the dispatch goroutine for
// every line this connection sends, before the user has necessarily
// finished registering.
func (lu *LocalUser) handleLine(cb *Catbox, line string) {
	lu.LastActivityTime = time.Now()

	if lu.User == nil {
		lu.handlePreRegLine(cb, line)
		return
	}
	cb.dispatchLine(lu.User, line)
}

// handlePreRegLine handles NICK/USER/PASS/PING/QUIT before a User
// record exists. Once both NICK and USER have arrived, it attempts
// to complete registration.
func (lu *LocalUser) handlePreRegLine(cb *Catbox, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToUpper(fields[0])

	switch cmd {
	case "NICK":
		if len(fields) < 2 {
			lu.maybeQueueMessage(cb.numeric(ErrNoNicknameGiven, "*", ":No nickname given"))
			return
		}
		nick := fields[1]
		if !isValidNick(cb.Config.MaxNickLength, nick) {
			lu.maybeQueueMessage(cb.numeric(ErrErroneousNickname, "*", nick+" :Erroneous nickname"))
			return
		}
		if ql, forbidden := nickForbidden(cb, nick); forbidden {
			lu.maybeQueueMessage(cb.numeric(ErrErroneousNickname, "*", nick+" :Reserved nickname: "+ql.Reason))
			return
		}
		if _, exists := cb.findUser(nick); exists {
			lu.maybeQueueMessage(cb.numeric(ErrNicknameInUse, "*", nick+" :Nickname is already in use"))
			cb.Stats.NickCollision++
			cb.Metrics.nickCollisions.Inc()
			return
		}
		lu.PreRegNick = nick
		lu.GotNICK = true
	case "USER":
		if len(fields) < 5 {
			lu.maybeQueueMessage(cb.numeric(ErrNeedMoreParams, "*", "USER :Not enough parameters"))
			return
		}
		if !isValidUser(cb.Config.MaxNickLength, fields[1]) {
			lu.maybeQueueMessage(cb.numeric(ErrNeedMoreParams, "*", "USER :Invalid username"))
			return
		}
		lu.PreRegUser = fields[1]
		lu.PreRegRealName = strings.TrimPrefix(strings.Join(fields[4:], " "), ":")
		lu.GotUSER = true
	case "PASS":
		if len(fields) >= 2 {
			lu.PreRegPass = fields[1]
			lu.GotPASS = true
		}
	case "CAPAB":
		lu.GotCAPAB = true
	case "PING":
		if len(fields) >= 2 {
			lu.maybeQueueMessage(fmt.Sprintf(":%s PONG %s :%s", cb.Config.ServerName, cb.Config.ServerName, fields[1]))
		}
	case "QUIT":
		lu.quit("Client quit")
	default:
		return
	}

	if lu.GotNICK && lu.GotUSER {
		lu.tryCompleteRegistration(cb)
	}
}

// tryCompleteRegistration polls the module host's OnCheckReady gate
// and, once every loaded module is satisfied, promotes the
// connection to a registered User and sends the welcome burst.
func (lu *LocalUser) tryCompleteRegistration(cb *Catbox) {
	u := &User{
		DisplayNick: lu.PreRegNick,
		NickTS:      time.Now().Unix(),
		Username:    lu.PreRegUser,
		RealHost:    lu.Hostname,
		DispHost:    lu.Hostname,
		RealName:    lu.PreRegRealName,
		Modes:       map[byte]struct{}{},
		RegState:    RegModulesReady,
		ServerName:  cb.Config.ServerName,
		LocalUser:   lu,
	}

	if !cb.Modules.runCheckReady(cb, u) {
		// No gating module is loaded by default, so this never blocks
		// today; a gating module would re-drive registration once it
		// finishes its own check.
		return
	}

	uid, err := makeTS6UID(cb.Config.TS6SID, lu.ID)
	if err != nil {
		lu.quit("ID overflow")
		return
	}
	u.UID = uid

	if err := cb.insertUser(u); err != nil {
		lu.maybeQueueMessage(cb.numeric(ErrNicknameInUse, "*", u.DisplayNick+" :Nickname is already in use"))
		return
	}

	u.RegState = RegRegistered
	lu.User = u

	lu.completeRegistration(cb)
}

// completeRegistration sends the 001-004 welcome burst and the MOTD,
// then propagates the new user to every peer via UID.
func (lu *LocalUser) completeRegistration(cb *Catbox) {
	u := lu.User
	cb.Logger.WithField("nick", u.DisplayNick).Info("user registered")
	cb.Stats.Accepts++
	cb.Modules.runUserConnect(cb, u)

	lu.maybeQueueMessage(cb.numeric(RplWelcome, u.DisplayNick,
		fmt.Sprintf(":Welcome to the %s IRC Network %s", cb.Config.ServerInfo, u.String())))
	lu.maybeQueueMessage(cb.numeric(RplYourHost, u.DisplayNick,
		fmt.Sprintf(":Your host is %s, running version %s", cb.Config.ServerName, cb.Config.Version)))
	lu.maybeQueueMessage(cb.numeric(RplCreated, u.DisplayNick,
		":This server was created "+cb.Config.CreatedDate))
	lu.maybeQueueMessage(cb.numeric(RplMyInfo, u.DisplayNick,
		cb.Config.ServerName+" "+cb.Config.Version+" io ns"))

	sendMOTD(cb, u)

	cb.sendToAll(fmt.Sprintf(":%s UID %s 1 %d +i %s %s %s %s :%s",
		cb.Config.TS6SID, u.DisplayNick, u.NickTS, u.Username, u.RealHost, u.UID, u.DispHost, u.RealName))
}

func sendMOTD(cb *Catbox, u *User) {
	if cb.Config.MOTD == "" {
		u.write(cb.numeric(ErrNeedMoreParams, u.DisplayNick, ":MOTD File is missing"))
		return
	}
	u.write(cb.numeric(RplMotdStart, u.DisplayNick, ":- "+cb.Config.ServerName+" Message of the Day -"))
	for _, line := range strings.Split(cb.Config.MOTD, "\n") {
		if line == "" {
			line = " "
		}
		u.write(cb.numeric(RplMotd, u.DisplayNick, ":- "+line))
	}
	u.write(cb.numeric(RplEndOfMotd, u.DisplayNick, ":End of /MOTD command."))
}

// registerCoreCommands populates the command table with the command
// surface this core ships, each routed through the same
// CommandDescriptor/dispatchLine path whether core- or
// module-registered.
func registerCoreCommands(cb *Catbox) {
	core := []*CommandDescriptor{
		{Name: "PRIVMSG", Handler: privmsgCommand, MinParams: 2, Source: "<core>"},
		{Name: "NOTICE", Handler: noticeCommand, MinParams: 2, Source: "<core>"},
		{Name: "JOIN", Handler: joinCommand, MinParams: 1, Source: "<core>"},
		{Name: "PART", Handler: partCommand, MinParams: 1, Source: "<core>"},
		{Name: "TOPIC", Handler: topicCommand, MinParams: 1, Source: "<core>"},
		{Name: "MODE", Handler: modeCommand, MinParams: 1, Source: "<core>"},
		{Name: "NAMES", Handler: namesCommand, MinParams: 0, Source: "<core>"},
		{Name: "WHO", Handler: whoCommand, MinParams: 0, Source: "<core>"},
		{Name: "WHOIS", Handler: whoisCommand, MinParams: 1, Source: "<core>"},
		{Name: "LIST", Handler: listCommand, MinParams: 0, Source: "<core>"},
		{Name: "MOTD", Handler: motdCommand, MinParams: 0, Source: "<core>"},
		{Name: "LUSERS", Handler: lusersCommand, MinParams: 0, Source: "<core>"},
		{Name: "VERSION", Handler: versionCommand, MinParams: 0, Source: "<core>"},
		{Name: "ADMIN", Handler: adminCommand, MinParams: 0, Source: "<core>"},
		{Name: "INFO", Handler: infoCommand, MinParams: 0, Source: "<core>"},
		{Name: "TIME", Handler: timeCommand, MinParams: 0, Source: "<core>"},
		{Name: "AWAY", Handler: awayCommand, MinParams: 0, Source: "<core>"},
		{Name: "OPER", Handler: operCommand, MinParams: 2, Source: "<core>"},
		{Name: "KILL", Handler: killCommand, RequiredMode: 'o', MinParams: 2, Source: "<core>"},
		{Name: "KLINE", Handler: klineCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "UNKLINE", Handler: unklineCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "WALLOPS", Handler: wallopsCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "DIE", Handler: dieCommand, RequiredMode: 'o', MinParams: 0, Source: "<core>"},
		{Name: "CONNECT", Handler: connectCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "SQUIT", Handler: squitCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "LINKS", Handler: linksCommand, MinParams: 0, Source: "<core>"},
		{Name: "STATS", Handler: statsCommand, MinParams: 0, Source: "<core>"},
		{Name: "MODULES", Handler: modulesCommand, MinParams: 0, Source: "<core>"},
		{Name: "QUIT", Handler: quitCommand, MinParams: 0, Source: "<core>"},
		{Name: "PING", Handler: pingCommand, MinParams: 0, Source: "<core>"},
		{Name: "PONG", Handler: pongCommand, MinParams: 0, Source: "<core>"},
		{Name: "NICK", Handler: nickCommand, MinParams: 1, Source: "<core>"},
		{Name: "USER", Handler: userCommand, MinParams: 0, Source: "<core>"},
		{Name: "PASS", Handler: passCommand, MinParams: 0, Source: "<core>"},
		{Name: "KICK", Handler: kickCommand, MinParams: 2, Source: "<core>"},
		{Name: "INVITE", Handler: inviteCommand, MinParams: 2, Source: "<core>"},
		{Name: "USERHOST", Handler: userhostCommand, MinParams: 1, Source: "<core>"},
		{Name: "ISON", Handler: isonCommand, MinParams: 1, Source: "<core>"},
		{Name: "WHOWAS", Handler: whowasCommand, MinParams: 1, Source: "<core>"},
		{Name: "RULES", Handler: rulesCommand, MinParams: 0, Source: "<core>"},
		{Name: "MAP", Handler: mapCommand, MinParams: 0, Source: "<core>"},
		{Name: "USERS", Handler: usersCommand, MinParams: 0, Source: "<core>"},
		{Name: "SUMMON", Handler: summonCommand, MinParams: 0, Source: "<core>"},
		{Name: "REHASH", Handler: rehashCommand, RequiredMode: 'o', MinParams: 0, Source: "<core>"},
		{Name: "RESTART", Handler: restartCommand, RequiredMode: 'o', MinParams: 0, Source: "<core>"},
		{Name: "TRACE", Handler: traceCommand, RequiredMode: 'o', MinParams: 0, Source: "<core>"},
		{Name: "GLINE", Handler: glineCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "ZLINE", Handler: zlineCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "QLINE", Handler: qlineCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "ELINE", Handler: elineCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "LOADMODULE", Handler: loadmoduleCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
		{Name: "UNLOADMODULE", Handler: unloadmoduleCommand, RequiredMode: 'o', MinParams: 1, Source: "<core>"},
	}
	for _, d := range core {
		_ = cb.Commands.register(d)
	}
}

func privmsgCommand(cb *Catbox, u *User, params []string) {
	target, text := params[0], params[1]
	if max := irc512Headroom(u); len(text) > max {
		text = text[:max]
	}

	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") || strings.HasPrefix(target, "+") {
		ch, ok := cb.findChannel(target)
		if !ok {
			u.write(cb.numeric(ErrNoSuchChannel, u.DisplayNick, target+" :No such channel"))
			return
		}
		if ch.Simple&ModeNoExternal != 0 {
			if _, onChan := u.onChannel(ch); !onChan {
				u.write(cb.numeric(ErrCannotSendToChan, u.DisplayNick, target+" :Cannot send to channel"))
				return
			}
		}
		cb.writeChannelLocal(ch, u, fmt.Sprintf("PRIVMSG %s :%s", ch.Name, text))
		cb.sendToCommon(u, fmt.Sprintf(":%s PRIVMSG %s :%s", u.UID, ch.Name, text))
		return
	}

	dst, ok := cb.findUser(target)
	if !ok {
		u.write(cb.numeric(ErrNoSuchNick, u.DisplayNick, target+" :No such nick/channel"))
		return
	}
	if dst.AwayMessage != "" {
		u.write(cb.numeric(RplAway, u.DisplayNick, dst.DisplayNick+" :"+dst.AwayMessage))
	}
	if dst.isLocal() {
		cb.writeFrom(dst.LocalUser.LocalClient, u, fmt.Sprintf("PRIVMSG %s :%s", dst.DisplayNick, text))
		return
	}
	if srv, ok := cb.ServersByName[fold(dst.ServerName)]; ok && srv.LocalServer != nil {
		cb.sendToPeer(srv.LocalServer, fmt.Sprintf(":%s PRIVMSG %s :%s", u.UID, dst.UID, text))
	}
}

// irc512Headroom returns how many bytes of message text fit under
// the 512 byte wire limit once the ":nick!user@host PRIVMSG target :"
// framing and trailing CRLF are accounted for.
func irc512Headroom(u *User) int {
	overhead := len(u.String()) + len(" PRIVMSG  :") + 2
	if overhead >= 512 {
		return 0
	}
	return 512 - overhead
}

func noticeCommand(cb *Catbox, u *User, params []string) {
	target, text := params[0], params[1]
	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") || strings.HasPrefix(target, "+") {
		ch, ok := cb.findChannel(target)
		if !ok {
			return
		}
		cb.writeChannelLocal(ch, u, fmt.Sprintf("NOTICE %s :%s", ch.Name, text))
		cb.sendToCommon(u, fmt.Sprintf(":%s NOTICE %s :%s", u.UID, ch.Name, text))
		return
	}
	dst, ok := cb.findUser(target)
	if !ok || dst.isRemote() {
		return
	}
	cb.writeFrom(dst.LocalUser.LocalClient, u, fmt.Sprintf("NOTICE %s :%s", dst.DisplayNick, text))
}

func joinCommand(cb *Catbox, u *User, params []string) {
	names := strings.Split(params[0], ",")
	var keys []string
	if len(params) > 1 {
		keys = strings.Split(params[1], ",")
	}
	for i, name := range names {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		_ = joinUserToChannel(cb, u, name, key)
	}
}

func partCommand(cb *Catbox, u *User, params []string) {
	reason := ""
	if len(params) > 1 {
		reason = params[1]
	}
	for _, name := range strings.Split(params[0], ",") {
		ch, ok := cb.findChannel(name)
		if !ok {
			u.write(cb.numeric(ErrNoSuchChannel, u.DisplayNick, name+" :No such channel"))
			continue
		}
		if _, onChan := u.onChannel(ch); !onChan {
			u.write(cb.numeric(ErrNotOnChannel, u.DisplayNick, name+" :You're not on that channel"))
			continue
		}
		partUserFromChannel(cb, u, ch, reason)
		if u.isLocal() {
			cb.sendToAll(fmt.Sprintf(":%s PART %s", u.UID, ch.Name))
		}
	}
}

func topicCommand(cb *Catbox, u *User, params []string) {
	ch, ok := cb.findChannel(params[0])
	if !ok {
		u.write(cb.numeric(ErrNoSuchChannel, u.DisplayNick, params[0]+" :No such channel"))
		return
	}
	if len(params) == 1 {
		sendTopic(cb, u, ch)
		return
	}
	if ch.Simple&ModeTopicLock != 0 {
		status, _ := ch.memberStatus(u)
		if status&(StatusOp|StatusFounder|StatusHalfop) == 0 {
			u.write(cb.numeric(ErrChanOpPrivsNeeded, u.DisplayNick, ch.Name+" :You're not channel operator"))
			return
		}
	}
	topic := params[1]
	if len(topic) > maxTopicLength {
		topic = topic[:maxTopicLength]
	}
	if cb.Modules.runTopicChange(cb, u, ch, topic) == Halt {
		return
	}
	ch.Topic = topic
	ch.TopicSetter = u.DisplayNick
	ch.TopicTS = time.Now().Unix()
	cb.writeChannel(ch, u, fmt.Sprintf("TOPIC %s :%s", ch.Name, topic))
	cb.sendToCommon(u, fmt.Sprintf(":%s TOPIC %s :%s", u.UID, ch.Name, topic))
}

func modeCommand(cb *Catbox, u *User, params []string) {
	target := params[0]
	if strings.HasPrefix(target, "#") {
		channelModeCommand(cb, u, target, params[1:])
		return
	}
	userModeCommand(cb, u, target, params[1:])
}

func userModeCommand(cb *Catbox, u *User, target string, args []string) {
	if fold(target) != u.canonicalNick() {
		u.write(cb.numeric(ErrNoPrivileges, u.DisplayNick, ":Cannot change mode for other users"))
		return
	}
	if len(args) == 0 {
		u.write(cb.numeric("221", u.DisplayNick, u.modesString()))
		return
	}
	if cb.Modules.runModeChange(cb, u, target, args[0]) == Halt {
		return
	}
	applyUserModeString(cb, u, args[0])
}

func applyUserModeString(cb *Catbox, u *User, modes string) {
	adding := true
	for i := 0; i < len(modes); i++ {
		switch modes[i] {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			if !adding && modes[i] == 'o' {
				u.setMode(cb, 'o', false)
				continue
			}
			if adding && modes[i] == 'o' {
				// Users may not self-oper via MODE; only OPER grants +o.
				continue
			}
			u.setMode(cb, modes[i], adding)
		}
	}
}

func channelModeCommand(cb *Catbox, u *User, target string, args []string) {
	ch, ok := cb.findChannel(target)
	if !ok {
		u.write(cb.numeric(ErrNoSuchChannel, u.DisplayNick, target+" :No such channel"))
		return
	}
	if len(args) == 0 {
		flags, params := ch.renderModes()
		text := flags
		if len(params) > 0 {
			text += " " + strings.Join(params, " ")
		}
		u.write(cb.numeric(RplChannelModeIs, u.DisplayNick, ch.Name+" "+text))
		return
	}

	status, _ := ch.memberStatus(u)
	if status&(StatusOp|StatusFounder) == 0 {
		u.write(cb.numeric(ErrChanOpPrivsNeeded, u.DisplayNick, ch.Name+" :You're not channel operator"))
		return
	}

	if cb.Modules.runModeChange(cb, u, ch.Name, args[0]) == Halt {
		return
	}

	modeStr := args[0]
	rest := args[1:]
	adding := true
	argIdx := 0
	var applied strings.Builder
	var appliedParams []string

	for i := 0; i < len(modeStr); i++ {
		letter := modeStr[i]
		switch letter {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		switch letter {
		case 'b':
			if argIdx >= len(rest) {
				if adding {
					for _, b := range ch.Bans {
						u.write(cb.numeric(RplBanList, u.DisplayNick, ch.Name+" "+b))
					}
					u.write(cb.numeric(RplEndOfBanList, u.DisplayNick, ch.Name+" :End of channel ban list"))
				}
				continue
			}
			mask := rest[argIdx]
			argIdx++
			if adding {
				if !ch.addBan(mask, cb.Config.MaxBans) {
					u.write(cb.numeric(ErrBanListFull, u.DisplayNick, ch.Name+" "+mask+" :Channel ban list is full"))
					continue
				}
			} else if !ch.removeBan(mask) {
				continue
			}
			appliedParams = append(appliedParams, mask)
			applied.WriteByte(modeSign(adding))
			applied.WriteByte(letter)
		case 'k':
			if adding && argIdx < len(rest) {
				ch.Key = rest[argIdx]
				ch.Simple |= ModeKey
				appliedParams = append(appliedParams, ch.Key)
				argIdx++
			} else if !adding {
				ch.Key = ""
				ch.Simple &^= ModeKey
			}
			applied.WriteByte(modeSign(adding))
			applied.WriteByte(letter)
		case 'l':
			if adding && argIdx < len(rest) {
				n := 0
				_, _ = fmt.Sscanf(rest[argIdx], "%d", &n)
				ch.Limit = n
				ch.Simple |= ModeLimit
				appliedParams = append(appliedParams, rest[argIdx])
				argIdx++
			} else if !adding {
				ch.Limit = 0
				ch.Simple &^= ModeLimit
			}
			applied.WriteByte(modeSign(adding))
			applied.WriteByte(letter)
		case 'o', 'v':
			if argIdx < len(rest) {
				member, ok := cb.findUser(rest[argIdx])
				if ok {
					toggleMemberStatus(ch, member, letter, adding)
					appliedParams = append(appliedParams, member.DisplayNick)
				}
				argIdx++
			}
			applied.WriteByte(modeSign(adding))
			applied.WriteByte(letter)
		case 'n', 't', 'i', 'm', 's', 'p':
			bit := simpleModeBit[letter]
			if adding {
				ch.Simple |= bit
			} else {
				ch.Simple &^= bit
			}
			applied.WriteByte(modeSign(adding))
			applied.WriteByte(letter)
		}
	}

	if applied.Len() == 0 {
		return
	}
	line := "MODE " + ch.Name + " " + applied.String()
	if len(appliedParams) > 0 {
		line += " " + strings.Join(appliedParams, " ")
	}
	cb.writeChannel(ch, u, line)
	cb.sendToCommon(u, ":"+u.UID+" "+line)
}

func modeSign(adding bool) byte {
	if adding {
		return '+'
	}
	return '-'
}

func toggleMemberStatus(ch *Channel, member *User, letter byte, on bool) {
	edge, ok := ch.Members[member.UID]
	if !ok {
		return
	}
	var bit MemberStatus
	switch letter {
	case 'o':
		bit = StatusOp
	case 'v':
		bit = StatusVoice
	}
	if on {
		edge.Status |= bit
	} else {
		edge.Status &^= bit
	}
	for _, m := range member.Channels {
		if m.Channel == ch {
			m.Status = edge.Status
		}
	}
}

func namesCommand(cb *Catbox, u *User, params []string) {
	if len(params) == 0 {
		for _, m := range u.Channels {
			sendNames(cb, u, m.Channel)
		}
		return
	}
	for _, name := range strings.Split(params[0], ",") {
		if ch, ok := cb.findChannel(name); ok {
			sendNames(cb, u, ch)
		}
	}
}

func whoCommand(cb *Catbox, u *User, params []string) {
	if len(params) == 0 {
		u.write(cb.numeric(RplEndOfWho, u.DisplayNick, "* :End of /WHO list"))
		return
	}
	target := params[0]
	if ch, ok := cb.findChannel(target); ok {
		for _, member := range ch.members() {
			u.write(cb.numeric(RplWhoReply, u.DisplayNick,
				fmt.Sprintf("%s %s %s %s %s H :0 %s", ch.Name, member.Username, member.DispHost,
					member.ServerName, member.DisplayNick, member.RealName)))
		}
	}
	u.write(cb.numeric(RplEndOfWho, u.DisplayNick, target+" :End of /WHO list"))
}

func whoisCommand(cb *Catbox, u *User, params []string) {
	target, ok := cb.findUser(params[len(params)-1])
	if !ok {
		u.write(cb.numeric(ErrNoSuchNick, u.DisplayNick, params[len(params)-1]+" :No such nick/channel"))
		u.write(cb.numeric(RplEndOfWhois, u.DisplayNick, params[len(params)-1]+" :End of /WHOIS list"))
		return
	}
	u.write(cb.numeric(RplWhoisUser, u.DisplayNick,
		fmt.Sprintf("%s %s %s * :%s", target.DisplayNick, target.Username, target.DispHost, target.RealName)))
	u.write(cb.numeric(RplWhoisServer, u.DisplayNick,
		fmt.Sprintf("%s %s :%s", target.DisplayNick, target.ServerName, cb.findServerDescription(target.ServerName))))
	if target.isOperator() {
		u.write(cb.numeric(RplWhoisOperator, u.DisplayNick, target.DisplayNick+" :is an IRC operator"))
	}
	if target.AwayMessage != "" {
		u.write(cb.numeric(RplAway, u.DisplayNick, target.DisplayNick+" :"+target.AwayMessage))
	}
	var channels []string
	for _, m := range target.Channels {
		channels = append(channels, m.Channel.Name)
	}
	if len(channels) > 0 {
		u.write(cb.numeric(RplWhoisChannels, u.DisplayNick, target.DisplayNick+" :"+strings.Join(channels, " ")))
	}
	u.write(cb.numeric(RplEndOfWhois, u.DisplayNick, target.DisplayNick+" :End of /WHOIS list"))
}

func listCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(RplListStart, u.DisplayNick, "Channel :Users  Name"))
	for _, ch := range cb.Channels {
		if ch.Simple&(ModeSecret|ModePrivate) != 0 {
			if _, onChan := u.onChannel(ch); !onChan {
				continue
			}
		}
		u.write(cb.numeric(RplList, u.DisplayNick, fmt.Sprintf("%s %d :%s", ch.Name, len(ch.Members), ch.Topic)))
	}
	u.write(cb.numeric(RplListEnd, u.DisplayNick, ":End of /LIST"))
}

func motdCommand(cb *Catbox, u *User, params []string) {
	sendMOTD(cb, u)
}

func lusersCommand(cb *Catbox, u *User, params []string) {
	localUsers := 0
	for _, usr := range cb.Nicks {
		if usr.isLocal() {
			localUsers++
		}
	}
	u.write(cb.numeric("251", u.DisplayNick,
		fmt.Sprintf(":There are %d users and 0 invisible on 1 servers", localUsers)))
	u.write(cb.numeric("255", u.DisplayNick,
		fmt.Sprintf(":I have %d clients and %d servers", localUsers, len(cb.ServersBySID))))
}

func versionCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(RplMyInfo, u.DisplayNick, cb.Config.Version+" "+cb.Config.ServerName+" :"+cb.Config.ServerInfo))
}

func adminCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric("256", u.DisplayNick, ":Administrative info about "+cb.Config.ServerName))
	u.write(cb.numeric("258", u.DisplayNick, ":"+cb.Config.ServerInfo))
}

func infoCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric("371", u.DisplayNick, ":"+cb.Config.ServerInfo))
	u.write(cb.numeric("374", u.DisplayNick, ":End of /INFO list"))
}

func timeCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric("391", u.DisplayNick, cb.Config.ServerName+" :"+time.Now().Format(time.RFC1123)))
}

func awayCommand(cb *Catbox, u *User, params []string) {
	if len(params) == 0 || params[0] == "" {
		u.AwayMessage = ""
		u.write(cb.numeric(RplUnaway, u.DisplayNick, ":You are no longer marked as being away"))
		return
	}
	u.AwayMessage = params[0]
	u.write(cb.numeric(RplNowAway, u.DisplayNick, ":You have been marked as being away"))
}

func operCommand(cb *Catbox, u *User, params []string) {
	name, pass := params[0], params[1]
	expected, ok := cb.Config.Opers[name]
	if !ok || expected != pass {
		u.write(cb.numeric(ErrPasswdMismatch, u.DisplayNick, ":Password incorrect"))
		return
	}
	if cb.Modules.runOper(cb, u) == Halt {
		return
	}
	u.setMode(cb, 'o', true)
	u.write(cb.numeric(RplYoureOper, u.DisplayNick, ":You are now an IRC operator"))
	cb.noticeOpers(fmt.Sprintf("%s is now an operator", u.DisplayNick))
}

func killCommand(cb *Catbox, u *User, params []string) {
	target, reason := params[0], params[1]
	victim, ok := cb.findUser(target)
	if !ok {
		u.write(cb.numeric(ErrNoSuchNick, u.DisplayNick, target+" :No such nick"))
		return
	}
	full := fmt.Sprintf("%s (%s)", u.DisplayNick, reason)
	if victim.isLocal() {
		victim.LocalUser.quit("Killed: " + full)
	}
	quitUser(cb, victim, "Killed: "+full)
	cb.sendToAll(fmt.Sprintf(":%s KILL %s :%s", u.UID, victim.UID, full))
}

func klineCommand(cb *Catbox, u *User, params []string) {
	reason := "K-Lined"
	if len(params) > 1 {
		reason = params[1]
	}
	kl, err := addAndApplyKLine(cb, params[0], reason, u.DisplayNick)
	if err != nil {
		u.write(cb.numeric(ErrNeedMoreParams, u.DisplayNick, ":"+err.Error()))
		return
	}
	u.write(fmt.Sprintf(":%s NOTICE %s :Added K-Line for %s", cb.Config.ServerName, u.DisplayNick, kl.Mask))
	cb.noticeOpers(fmt.Sprintf("%s added K-Line for %s", u.DisplayNick, kl.Mask))
	cb.sendToAll(fmt.Sprintf(":%s ENCAP * KLINE %s :%s", u.UID, kl.Mask, reason))
}

func unklineCommand(cb *Catbox, u *User, params []string) {
	if removeKLine(cb, params[0]) {
		cb.noticeOpers(fmt.Sprintf("%s removed K-Line for %s", u.DisplayNick, params[0]))
		cb.sendToAll(fmt.Sprintf(":%s ENCAP * UNKLINE %s", u.UID, params[0]))
	}
}

func wallopsCommand(cb *Catbox, u *User, params []string) {
	cb.writeWallops(u, params[0])
	cb.sendToAll(fmt.Sprintf(":%s WALLOPS :%s", u.UID, params[0]))
}

func dieCommand(cb *Catbox, u *User, params []string) {
	cb.Logger.WithField("oper", u.DisplayNick).Warn("DIE received, shutting down")
	cb.shutdown()
}

// connectCommand initiates an outbound peer link:
// CONNECT <host> [port] [pass]. The dial happens off the dispatch
// goroutine; the handshake itself runs through the normal connection
// event path once the socket is up.
func connectCommand(cb *Catbox, u *User, params []string) {
	host := params[0]
	port := "6667"
	if len(params) > 1 {
		port = params[1]
	}
	pass := ""
	if len(params) > 2 {
		pass = params[2]
	}
	u.write(fmt.Sprintf(":%s NOTICE %s :*** Connecting to %s:%s", cb.Config.ServerName, u.DisplayNick, host, port))
	go cb.connectToServer(host, port, pass)
}

func squitCommand(cb *Catbox, u *User, params []string) {
	name := params[0]
	srv, ok := cb.ServersByName[fold(name)]
	if !ok || srv.LocalServer == nil {
		u.write(cb.numeric(ErrNoSuchServer, u.DisplayNick, name+" :No such server"))
		return
	}
	srv.LocalServer.quit("SQUIT by " + u.DisplayNick)
}

func linksCommand(cb *Catbox, u *User, params []string) {
	for _, srv := range cb.ServersByName {
		u.write(cb.numeric(RplLinks, u.DisplayNick,
			fmt.Sprintf("%s %s :%d %s", srv.Name, cb.Config.ServerName, srv.HopCount, srv.Description)))
	}
	u.write(cb.numeric(RplEndOfLinks, u.DisplayNick, "* :End of /LINKS list"))
}

// statsCommand reports the per-command usage counters (212 rows, in
// registration order) followed by the global totals.
func statsCommand(cb *Catbox, u *User, params []string) {
	for _, d := range cb.Commands.order {
		if d.UseCount == 0 {
			continue
		}
		u.write(cb.numeric("212", u.DisplayNick,
			fmt.Sprintf("%s %d %d", d.Name, d.UseCount, d.TotalBytes)))
	}
	u.write(cb.numeric("250", u.DisplayNick,
		fmt.Sprintf(":Accepts %d Refused %d Collisions %d Commands %d",
			cb.Stats.Accepts, cb.Stats.Refused, cb.Stats.NickCollision, cb.Stats.Commands)))
	u.write(cb.numeric("219", u.DisplayNick, "* :End of /STATS report"))
}

func modulesCommand(cb *Catbox, u *User, params []string) {
	for _, m := range cb.Modules.modules {
		u.write(cb.numeric("702", u.DisplayNick, m.Name()+" :Module"))
	}
	u.write(cb.numeric("703", u.DisplayNick, ":End of /MODULES list"))
}

func quitCommand(cb *Catbox, u *User, params []string) {
	reason := "Client quit"
	if len(params) > 0 {
		reason = params[0]
	}
	if u.isLocal() {
		u.LocalUser.quit(reason)
	}
	quitUser(cb, u, reason)
	cb.sendToAll(fmt.Sprintf(":%s QUIT :%s", u.UID, reason))
}

func pingCommand(cb *Catbox, u *User, params []string) {
	target := cb.Config.ServerName
	if len(params) > 0 {
		target = params[0]
	}
	u.write(fmt.Sprintf(":%s PONG %s :%s", cb.Config.ServerName, cb.Config.ServerName, target))
}

func pongCommand(cb *Catbox, u *User, params []string) {
	if u.isLocal() {
		u.LocalUser.LastMessageTime = time.Now()
	}
}

func nickCommand(cb *Catbox, u *User, params []string) {
	newNick := params[0]
	if !isValidNick(cb.Config.MaxNickLength, newNick) {
		u.write(cb.numeric(ErrErroneousNickname, u.DisplayNick, newNick+" :Erroneous nickname"))
		return
	}
	if ql, forbidden := nickForbidden(cb, newNick); forbidden {
		u.write(cb.numeric(ErrErroneousNickname, u.DisplayNick, newNick+" :Reserved nickname: "+ql.Reason))
		return
	}
	if fold(newNick) == u.canonicalNick() {
		u.DisplayNick = newNick // case-only change
		return
	}
	if _, exists := cb.findUser(newNick); exists {
		u.write(cb.numeric(ErrNicknameInUse, u.DisplayNick, newNick+" :Nickname is already in use"))
		cb.Stats.NickCollision++
		cb.Metrics.nickCollisions.Inc()
		return
	}

	newNickTS := time.Now().Unix()

	// Fan out before renaming: crafting the NICK line must still use
	// the old nick in its prefix.
	cb.writeCommon(u, fmt.Sprintf("NICK :%s", newNick))
	cb.sendToAll(fmt.Sprintf(":%s NICK %s :%d", u.UID, newNick, newNickTS))

	if err := cb.renameUser(u, newNick); err != nil {
		return
	}
	u.NickTS = newNickTS
}

// userCommand and passCommand exist in the registered table only so
// that a registered user re-sending them gets the RFC reply instead
// of 421; the real NICK/USER/PASS handshake runs through
// handlePreRegLine before a User record exists.
func userCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(ErrAlreadyRegistered, u.DisplayNick, ":You may not reregister"))
}

func passCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(ErrAlreadyRegistered, u.DisplayNick, ":You may not reregister"))
}

func kickCommand(cb *Catbox, u *User, params []string) {
	ch, ok := cb.findChannel(params[0])
	if !ok {
		u.write(cb.numeric(ErrNoSuchChannel, u.DisplayNick, params[0]+" :No such channel"))
		return
	}
	status, onChan := ch.memberStatus(u)
	if !onChan {
		u.write(cb.numeric(ErrNotOnChannel, u.DisplayNick, ch.Name+" :You're not on that channel"))
		return
	}
	if status&(StatusOp|StatusFounder|StatusHalfop) == 0 {
		u.write(cb.numeric(ErrChanOpPrivsNeeded, u.DisplayNick, ch.Name+" :You're not channel operator"))
		return
	}
	target, ok := cb.findUser(params[1])
	if !ok {
		u.write(cb.numeric(ErrNoSuchNick, u.DisplayNick, params[1]+" :No such nick/channel"))
		return
	}
	if _, on := target.onChannel(ch); !on {
		u.write(cb.numeric(ErrUserNotInChannel, u.DisplayNick,
			target.DisplayNick+" "+ch.Name+" :They aren't on that channel"))
		return
	}
	reason := u.DisplayNick
	if len(params) > 2 {
		reason = params[2]
	}

	targetUID := target.UID
	if kickUserFromChannel(cb, u, target, ch, reason) {
		cb.sendToAll(fmt.Sprintf(":%s KICK %s %s :%s", u.UID, ch.Name, targetUID, reason))
	}
}

func inviteCommand(cb *Catbox, u *User, params []string) {
	target, ok := cb.findUser(params[0])
	if !ok {
		u.write(cb.numeric(ErrNoSuchNick, u.DisplayNick, params[0]+" :No such nick/channel"))
		return
	}
	ch, ok := cb.findChannel(params[1])
	if !ok {
		u.write(cb.numeric(ErrNoSuchChannel, u.DisplayNick, params[1]+" :No such channel"))
		return
	}
	status, onChan := ch.memberStatus(u)
	if !onChan {
		u.write(cb.numeric(ErrNotOnChannel, u.DisplayNick, ch.Name+" :You're not on that channel"))
		return
	}
	if _, on := target.onChannel(ch); on {
		u.write(cb.numeric(ErrUserOnChannel, u.DisplayNick,
			target.DisplayNick+" "+ch.Name+" :is already on channel"))
		return
	}
	if ch.Simple&ModeInviteOnly != 0 && status&(StatusOp|StatusFounder) == 0 {
		u.write(cb.numeric(ErrChanOpPrivsNeeded, u.DisplayNick, ch.Name+" :You're not channel operator"))
		return
	}

	ch.Invites[target.UID] = struct{}{}
	u.write(cb.numeric(RplInviting, u.DisplayNick, target.DisplayNick+" "+ch.Name))
	cb.writeTo(u, target, fmt.Sprintf("INVITE %s :%s", target.DisplayNick, ch.Name))
	if target.isRemote() {
		if srv, ok := cb.ServersByName[fold(target.ServerName)]; ok && srv.LocalServer != nil {
			cb.sendToPeer(srv.LocalServer, fmt.Sprintf(":%s INVITE %s %s", u.UID, target.UID, ch.Name))
		}
	}
}

func userhostCommand(cb *Catbox, u *User, params []string) {
	var entries []string
	for i, nick := range params {
		if i >= 5 {
			break
		}
		target, ok := cb.findUser(nick)
		if !ok {
			continue
		}
		entry := target.DisplayNick
		if target.isOperator() {
			entry += "*"
		}
		entry += "=+" + target.Username + "@" + target.DispHost
		entries = append(entries, entry)
	}
	u.write(cb.numeric(RplUserhost, u.DisplayNick, ":"+strings.Join(entries, " ")))
}

func isonCommand(cb *Catbox, u *User, params []string) {
	var present []string
	for _, nick := range strings.Fields(strings.Join(params, " ")) {
		if target, ok := cb.findUser(nick); ok {
			present = append(present, target.DisplayNick)
		}
	}
	u.write(cb.numeric(RplIson, u.DisplayNick, ":"+strings.Join(present, " ")))
}

func whowasCommand(cb *Catbox, u *User, params []string) {
	nick := params[0]
	folded := fold(nick)
	found := false
	// Newest first.
	for i := len(cb.WhoWas) - 1; i >= 0; i-- {
		entry := cb.WhoWas[i]
		if fold(entry.Nick) != folded {
			continue
		}
		found = true
		u.write(cb.numeric(RplWhoWasUser, u.DisplayNick,
			fmt.Sprintf("%s %s %s * :%s", entry.Nick, entry.Username, entry.Host, entry.RealName)))
		u.write(cb.numeric(RplWhoisServer, u.DisplayNick,
			fmt.Sprintf("%s %s :%s", entry.Nick, entry.ServerName, entry.Seen.Format(time.RFC1123))))
	}
	if !found {
		u.write(cb.numeric(ErrWasNoSuchNick, u.DisplayNick, nick+" :There was no such nickname"))
	}
	u.write(cb.numeric(RplEndOfWhoWas, u.DisplayNick, nick+" :End of WHOWAS"))
}

func rulesCommand(cb *Catbox, u *User, params []string) {
	if cb.Config.Rules == "" {
		u.write(cb.numeric(ErrNoRules, u.DisplayNick, ":RULES File is missing"))
		return
	}
	u.write(cb.numeric(RplRulesStart, u.DisplayNick, ":- "+cb.Config.ServerName+" Server Rules -"))
	for _, line := range strings.Split(cb.Config.Rules, "\n") {
		if line == "" {
			line = " "
		}
		u.write(cb.numeric(RplRules, u.DisplayNick, ":- "+line))
	}
	u.write(cb.numeric(RplRulesEnd, u.DisplayNick, ":End of RULES command."))
}

func mapCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(RplMap, u.DisplayNick, ":"+cb.Config.ServerName))
	for _, srv := range cb.ServersByName {
		indent := strings.Repeat("  ", srv.HopCount)
		u.write(cb.numeric(RplMap, u.DisplayNick, ":"+indent+srv.Name))
	}
	u.write(cb.numeric(RplMapEnd, u.DisplayNick, ":End of /MAP"))
}

func usersCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(ErrUsersDisabled, u.DisplayNick, ":USERS has been disabled"))
}

func summonCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(ErrSummonDisabled, u.DisplayNick, ":SUMMON has been disabled"))
}

// rehashCommand re-reads the configuration file and swaps in the
// parts that can change at runtime. Listener and identity fields
// (host/port, server name, SID) stay fixed for the life of the
// process.
func rehashCommand(cb *Catbox, u *User, params []string) {
	u.write(cb.numeric(RplRehashing, u.DisplayNick, "ircd.conf :Rehashing"))
	cb.noticeOpers(fmt.Sprintf("%s is rehashing the server configuration", u.DisplayNick))

	if cb.ConfigPath == "" {
		return
	}
	fresh, err := readConfig(cb.ConfigPath)
	if err != nil {
		cb.Logger.WithError(err).Error("rehash failed")
		cb.noticeOpers(fmt.Sprintf("Rehash failed: %s", err))
		return
	}
	cb.Config.MOTD = fresh.MOTD
	cb.Config.Rules = fresh.Rules
	cb.Config.Opers = fresh.Opers
	cb.Config.MaxBans = fresh.MaxBans
	cb.Config.OperJoinChannel = fresh.OperJoinChannel
}

// restartCommand shuts the daemon down cleanly; the supervising
// process manager is what actually brings it back up.
func restartCommand(cb *Catbox, u *User, params []string) {
	cb.Logger.WithField("oper", u.DisplayNick).Warn("RESTART received, shutting down")
	cb.noticeOpers(fmt.Sprintf("%s requested RESTART", u.DisplayNick))
	cb.shutdown()
}

func traceCommand(cb *Catbox, u *User, params []string) {
	for _, srv := range cb.ServersByName {
		if srv.LocalServer == nil {
			continue
		}
		u.write(cb.numeric(RplTraceServer, u.DisplayNick,
			fmt.Sprintf("Link %s %s %s", cb.Config.Version, srv.Name, cb.Config.ServerName)))
	}
	u.write(cb.numeric(RplTraceEnd, u.DisplayNick,
		cb.Config.ServerName+" "+cb.Config.Version+" :End of TRACE"))
}

// glineCommand is the network-wide variant of KLINE: same semantics
// locally, always propagated to every peer.
func glineCommand(cb *Catbox, u *User, params []string) {
	reason := "G-Lined"
	if len(params) > 1 {
		reason = params[1]
	}
	kl, err := addAndApplyKLine(cb, params[0], reason, u.DisplayNick)
	if err != nil {
		u.write(cb.numeric(ErrNeedMoreParams, u.DisplayNick, ":"+err.Error()))
		return
	}
	cb.noticeOpers(fmt.Sprintf("%s added G-Line for %s", u.DisplayNick, kl.Mask))
	cb.sendToAll(fmt.Sprintf(":%s ENCAP * KLINE %s :%s", u.UID, kl.Mask, reason))
}

func zlineCommand(cb *Catbox, u *User, params []string) {
	reason := "Z-Lined"
	if len(params) > 1 {
		reason = params[1]
	}
	zl := addZLine(cb, params[0], reason, u.DisplayNick)
	cb.noticeOpers(fmt.Sprintf("%s added Z-Line for %s", u.DisplayNick, zl.Mask))
}

func qlineCommand(cb *Catbox, u *User, params []string) {
	reason := "Reserved"
	if len(params) > 1 {
		reason = params[1]
	}
	ql := addQLine(cb, params[0], reason, u.DisplayNick)
	cb.noticeOpers(fmt.Sprintf("%s added Q-Line for %s", u.DisplayNick, ql.Mask))
}

func elineCommand(cb *Catbox, u *User, params []string) {
	reason := "Exempt"
	if len(params) > 1 {
		reason = params[1]
	}
	el := addELine(cb, params[0], reason, u.DisplayNick)
	cb.noticeOpers(fmt.Sprintf("%s added E-Line for %s", u.DisplayNick, el.Mask))
}

func loadmoduleCommand(cb *Catbox, u *User, params []string) {
	name := params[0]
	if _, loaded := cb.Modules.find(name); loaded {
		u.write(fmt.Sprintf(":%s NOTICE %s :*** Module %s is already loaded", cb.Config.ServerName, u.DisplayNick, name))
		return
	}
	factory, ok := moduleFactories[name]
	if !ok {
		u.write(fmt.Sprintf(":%s NOTICE %s :*** No such module: %s", cb.Config.ServerName, u.DisplayNick, name))
		return
	}
	factory(cb)
	u.write(fmt.Sprintf(":%s NOTICE %s :*** Loaded module %s", cb.Config.ServerName, u.DisplayNick, name))
	cb.noticeOpers(fmt.Sprintf("%s loaded module %s", u.DisplayNick, name))
}

func unloadmoduleCommand(cb *Catbox, u *User, params []string) {
	name := params[0]
	if !cb.Modules.unregister(cb, name) {
		u.write(fmt.Sprintf(":%s NOTICE %s :*** Module %s is not loaded", cb.Config.ServerName, u.DisplayNick, name))
		return
	}
	u.write(fmt.Sprintf(":%s NOTICE %s :*** Unloaded module %s", cb.Config.ServerName, u.DisplayNick, name))
	cb.noticeOpers(fmt.Sprintf("%s unloaded module %s", u.DisplayNick, name))
}
