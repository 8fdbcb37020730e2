package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/irc"
)

// LocalServer is a connection that has identified itself (or is in
// the process of identifying itself) as a peer server via the TS6
// PASS/CAPAB/SERVER/SVINFO handshake, rather than a user's
// NICK/USER.
type LocalServer struct {
	*LocalClient
	Server *Server

	Capabs map[string]bool

	LastActivityTime time.Time
	LastPingTime     time.Time

	GotPING  bool
	GotPONG  bool
	Bursting bool

	// inboundSum is the sum carried by the line currently being
	// handled, empty when the line carried none. Forwarding preserves
	// it so loop detection works across hops.
	inboundSum string
}

func NewLocalServer(lc *LocalClient) *LocalServer {
	now := time.Now()
	return &LocalServer{
		LocalClient:      lc,
		Capabs:           map[string]bool{},
		LastActivityTime: now,
		LastPingTime:     now,
	}
}

// handleLine is the peer-connection entry point, mirroring
// LocalUser.handleLine: pre-handshake lines are handled inline,
// post-handshake lines are dispatched to the per-command peer
// handlers below.
func (ls *LocalServer) handleLine(cb *Catbox, line string) {
	ls.LastActivityTime = time.Now()

	if ls.Server == nil {
		ls.handleHandshakeLine(cb, line)
		return
	}

	if sum, rest, ok := splitSum(line); ok {
		if cb.dedupCache.seenRecently(sum) {
			return
		}
		ls.inboundSum = sum
		line = rest
	} else {
		ls.inboundSum = ""
	}

	msg, err := irc.ParseMessage(line + "\r\n")
	if err != nil || len(msg.Command) == 0 {
		return
	}

	handler, ok := peerHandlers[strings.ToUpper(msg.Command)]
	if !ok {
		return
	}
	handler(cb, ls, msg.Prefix, msg.Params)
}

func (ls *LocalServer) handleHandshakeLine(cb *Catbox, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToUpper(fields[0])

	switch cmd {
	case "PASS":
		if len(fields) >= 5 {
			ls.PreRegPass = fields[1]
			ls.PreRegTS6SID = strings.TrimPrefix(fields[4], ":")
			ls.GotPASS = true
		}
	case "CAPAB":
		for _, c := range fields[1:] {
			ls.Capabs[strings.TrimPrefix(c, ":")] = true
		}
		ls.GotCAPAB = true
	case "SERVER":
		if len(fields) < 3 {
			ls.quit("invalid SERVER line")
			return
		}
		ls.PreRegServerName = fields[1]
		hop, _ := strconv.Atoi(fields[2])
		ls.PreRegHopCount = hop
		desc := strings.TrimPrefix(strings.Join(fields[3:], " "), ":")
		ls.PreRegServerDesc = desc
		ls.GotSERVER = true
	case "SVINFO":
		ls.completeHandshake(cb)
	default:
	}
}

// completeHandshake validates the handshake and, on success, inserts
// the peer into the server table and the mesh, then sends our own
// burst.
func (ls *LocalServer) completeHandshake(cb *Catbox) {
	if !ls.GotPASS || !ls.GotSERVER {
		ls.quit("incomplete handshake")
		return
	}
	if !isValidSID(ls.PreRegTS6SID) {
		ls.quit("invalid SID")
		return
	}
	if _, exists := cb.ServersBySID[ls.PreRegTS6SID]; exists {
		ls.quit("SID collision")
		return
	}
	if cb.isLinkedToServer(ls.PreRegServerName) {
		ls.quit("already linked")
		return
	}

	srv := &Server{
		SID:         ls.PreRegTS6SID,
		Name:        ls.PreRegServerName,
		Description: ls.PreRegServerDesc,
		HopCount:    1,
		LocalServer: ls,
	}
	ls.Server = srv
	cb.ServersBySID[srv.SID] = srv
	cb.ServersByName[fold(srv.Name)] = srv
	cb.addPeer(srv)

	cb.Logger.WithField("server", srv.Name).Info("peer linked")
	cb.noticeOpers(fmt.Sprintf("Link established to %s", srv.Name))

	if !ls.SentServerIntro {
		ls.sendServerIntro(ls.PreRegPass)
		ls.sendSVINFO()
	}

	ls.Bursting = true
	ls.sendBurst(cb)
	ls.Bursting = false
}

// sendBurst sends our SID, every locally-registered user as UID, and
// every channel as SJOIN, to a newly linked peer.
func (ls *LocalServer) sendBurst(cb *Catbox) {
	for _, u := range cb.Nicks {
		if !u.isLocal() {
			continue
		}
		ls.maybeQueueMessage(fmt.Sprintf(":%s UID %s 1 %d +i %s %s %s %s :%s",
			cb.Config.TS6SID, u.DisplayNick, u.NickTS, u.Username, u.RealHost, u.UID, u.DispHost, u.RealName))
	}
	for _, ch := range cb.Channels {
		flags, params := ch.renderModes()
		names := make([]string, 0, len(ch.Members))
		for _, edge := range ch.Members {
			names = append(names, prefixForStatus(edge.Status)+edge.User.UID)
		}
		line := fmt.Sprintf(":%s SJOIN %d %s %s", cb.Config.TS6SID, ch.TS, ch.Name, flags)
		if len(params) > 0 {
			line += " " + strings.Join(params, " ")
		}
		line += " :" + strings.Join(names, " ")
		ls.maybeQueueMessage(line)
	}
}

// serverSplitCleanUp tears down every user and server reachable
// through ls's Server, per the quit/netsplit lifecycle.
func serverSplitCleanUp(cb *Catbox, ls *LocalServer, reason string) {
	srv := ls.Server
	if srv == nil {
		return
	}

	for _, linked := range cb.getLinkedServers(srv) {
		delete(cb.ServersBySID, linked.SID)
		delete(cb.ServersByName, fold(linked.Name))
		cb.removePeer(linked)
	}

	for _, u := range usersSnapshot(cb) {
		if u.isRemote() && fold(u.ServerName) == fold(srv.Name) {
			quitUser(cb, u, reason)
		}
	}

	delete(cb.ServersBySID, srv.SID)
	delete(cb.ServersByName, fold(srv.Name))
	cb.removePeer(srv)

	cb.noticeOpers(fmt.Sprintf("Split from %s (%s)", srv.Name, reason))
}

// peerHandlers is the TS6 command table for post-handshake peer
// traffic. Unlike the client CommandTable, this table is fixed and
// not module-extensible — peer protocol is not something a loaded
// module should be able to reshape.
var peerHandlers = map[string]func(cb *Catbox, ls *LocalServer, source string, params []string){
	"PING":    peerPing,
	"PONG":    peerPong,
	"UID":     peerUID,
	"SID":     peerSID,
	"SJOIN":   peerSJOIN,
	"JOIN":    peerJoin,
	"PART":    peerPart,
	"NICK":    peerNick,
	"QUIT":    peerQuit,
	"KICK":    peerKick,
	"INVITE":  peerInvite,
	"KILL":    peerKill,
	"MODE":    peerMode,
	"TOPIC":   peerTopic,
	"PRIVMSG": peerPrivmsg,
	"NOTICE":  peerNotice,
	"WALLOPS": peerWallops,
	"SQUIT":   peerSquit,
	"ENCAP":   peerEncap,
	"ERROR":   peerError,
}

func peerPing(cb *Catbox, ls *LocalServer, source string, params []string) {
	ls.GotPING = true
	ls.maybeQueueMessage(fmt.Sprintf(":%s PONG %s :%s", cb.Config.TS6SID, cb.Config.ServerName, cb.Config.TS6SID))
}

func peerPong(cb *Catbox, ls *LocalServer, source string, params []string) {
	ls.GotPONG = true
	ls.LastActivityTime = time.Now()
}

// peerUID introduces a remote user, propagating it on to every other
// peer.
func peerUID(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 8 {
		return
	}
	nick := params[0]
	nickTS, _ := strconv.ParseInt(params[1], 10, 64)
	username := params[3]
	realHost := params[4]
	uid := params[5]
	dispHost := params[6]
	realName := strings.TrimPrefix(params[len(params)-1], ":")

	if existing, ok := cb.findUser(nick); ok {
		// Nick collision across the mesh: lowest NickTS (oldest) wins;
		// on an exact tie both sides are killed to avoid divergence.
		switch {
		case existing.NickTS < nickTS:
			return // our user wins, drop the incoming UID
		case existing.NickTS > nickTS:
			if existing.isLocal() {
				existing.LocalUser.quit("Nick collision")
			}
			quitUser(cb, existing, "Nick collision")
		default:
			if existing.isLocal() {
				existing.LocalUser.quit("Nick collision")
			}
			quitUser(cb, existing, "Nick collision")
			return
		}
	}

	u := &User{
		UID:         uid,
		DisplayNick: nick,
		NickTS:      nickTS,
		Username:    username,
		RealHost:    realHost,
		DispHost:    dispHost,
		RealName:    realName,
		Modes:       map[byte]struct{}{},
		RegState:    RegRegistered,
		ServerName:  ls.Server.Name,
	}
	_ = cb.insertUser(u)
	cb.forward(ls, fmt.Sprintf(":%s UID %s", fold(ls.Server.Name), strings.Join(params, " ")))
}

// peerSID introduces a server reachable through ls, further out in
// the mesh than ls itself.
func peerSID(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 3 {
		return
	}
	name := params[0]
	hop, _ := strconv.Atoi(params[1])
	sid := params[2]

	if _, exists := cb.ServersBySID[sid]; exists {
		return
	}
	srv := &Server{SID: sid, Name: name, HopCount: hop + 1}
	cb.ServersBySID[sid] = srv
	cb.ServersByName[fold(name)] = srv
	cb.addPeer(srv)
	cb.forward(ls, fmt.Sprintf(":%s SID %s %d %s", cb.Config.TS6SID, name, hop, sid))
}

func peerSJOIN(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 4 {
		return
	}
	ts, _ := strconv.ParseInt(params[0], 10, 64)
	name := params[1]

	ch, existed := cb.findChannel(name)
	if !existed {
		ch = newChannel(name, ts)
		_ = cb.insertChannel(ch)
	} else if ts < ch.TS {
		// Remote channel is older: ours loses, adopt its TS and wipe our
		// simple modes per SJOIN's oldest-TS-wins merge rule.
		ch.TS = ts
		ch.Simple = 0
	}

	members := strings.TrimPrefix(params[len(params)-1], ":")
	for _, tok := range strings.Fields(members) {
		status := MemberStatus(0)
		for len(tok) > 0 && (tok[0] == '@' || tok[0] == '+' || tok[0] == '%') {
			switch tok[0] {
			case '@':
				status |= StatusOp
			case '+':
				status |= StatusVoice
			case '%':
				status |= StatusHalfop
			}
			tok = tok[1:]
		}
		u, ok := cb.findUserByUID(tok)
		if !ok {
			continue
		}
		if _, already := u.onChannel(ch); already {
			continue
		}
		_ = u.join(ch, status)
		ch.addMember(u, status)
	}

	cb.forward(ls, fmt.Sprintf(":%s SJOIN %s", cb.Config.TS6SID, strings.Join(params, " ")))
}

// peerJoin handles a post-burst single-channel JOIN from a peer (not
// an SJOIN merge). This core's own JOIN handler always propagates via
// SJOIN instead, but interop with peers that send bare JOIN requires
// handling it: source is the joining user's UID, params is [TS,
// channel].
func peerJoin(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 2 {
		return
	}
	u, ok := cb.findUserByUID(source)
	if !ok {
		return
	}
	ts, _ := strconv.ParseInt(params[0], 10, 64)
	name := params[1]

	ch, existed := cb.findChannel(name)
	if !existed {
		ch = newChannel(name, ts)
		_ = cb.insertChannel(ch)
	} else if ts < ch.TS {
		ch.TS = ts
		ch.Simple = 0
	}
	if _, already := u.onChannel(ch); already {
		return
	}
	_ = u.join(ch, 0)
	ch.addMember(u, 0)

	cb.writeChannelLocal(ch, u, fmt.Sprintf("JOIN :%s", ch.Name))
	cb.forward(ls, fmt.Sprintf(":%s JOIN %s", source, strings.Join(params, " ")))
}

// peerPart handles a remote user parting a channel: source is the
// parting user's UID, params is [channel, (optional) :reason].
func peerPart(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 1 {
		return
	}
	u, ok := cb.findUserByUID(source)
	if !ok {
		return
	}
	ch, ok := cb.findChannel(params[0])
	if !ok {
		return
	}
	reason := ""
	if len(params) > 1 {
		reason = strings.TrimPrefix(params[len(params)-1], ":")
	}

	partUserFromChannel(cb, u, ch, reason)
	cb.forward(ls, fmt.Sprintf(":%s PART %s", source, strings.Join(params, " ")))
}

// peerNick handles a remote nick change: source is the changing
// user's UID, params is [newnick, newTS].
func peerNick(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 1 {
		return
	}
	u, ok := cb.findUserByUID(source)
	if !ok {
		return
	}
	newNick := params[0]

	if existing, exists := cb.findUser(newNick); exists && existing != u {
		if existing.isLocal() {
			existing.LocalUser.quit("Nick collision")
		}
		quitUser(cb, existing, "Nick collision")
	}

	cb.writeCommon(u, fmt.Sprintf("NICK :%s", newNick))
	_ = cb.renameUser(u, newNick)
	if len(params) > 1 {
		if ts, err := strconv.ParseInt(params[1], 10, 64); err == nil {
			u.NickTS = ts
		}
	}
	cb.forward(ls, fmt.Sprintf(":%s NICK %s", source, strings.Join(params, " ")))
}

// peerQuit handles a remote user quitting: source is the quitting
// user's UID, params is [:reason].
func peerQuit(cb *Catbox, ls *LocalServer, source string, params []string) {
	u, ok := cb.findUserByUID(source)
	if !ok {
		return
	}
	reason := ""
	if len(params) > 0 {
		reason = strings.TrimPrefix(params[len(params)-1], ":")
	}
	quitUser(cb, u, reason)
	cb.forward(ls, fmt.Sprintf(":%s QUIT :%s", source, reason))
}

// peerKick handles a remote user kicking someone off a channel:
// source is the kicker's UID, params is [channel, target-UID,
// :reason].
func peerKick(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 2 {
		return
	}
	kicker, ok := cb.findUserByUID(source)
	if !ok {
		return
	}
	ch, ok := cb.findChannel(params[0])
	if !ok {
		return
	}
	target, ok := cb.findUserByUID(params[1])
	if !ok {
		return
	}
	reason := kicker.DisplayNick
	if len(params) > 2 {
		reason = strings.TrimPrefix(params[len(params)-1], ":")
	}
	kickUserFromChannel(cb, kicker, target, ch, reason)
	cb.forward(ls, fmt.Sprintf(":%s KICK %s", source, strings.Join(params, " ")))
}

// peerInvite handles a remote invitation of one of our local users:
// source is the inviter's UID, params is [target-UID, channel].
func peerInvite(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 2 {
		return
	}
	inviter, ok := cb.findUserByUID(source)
	if !ok {
		return
	}
	target, ok := cb.findUserByUID(params[0])
	if !ok {
		return
	}
	ch, ok := cb.findChannel(params[1])
	if !ok {
		return
	}
	ch.Invites[target.UID] = struct{}{}
	cb.writeTo(inviter, target, fmt.Sprintf("INVITE %s :%s", target.DisplayNick, ch.Name))
	if target.isRemote() {
		cb.forward(ls, fmt.Sprintf(":%s INVITE %s %s", source, target.UID, ch.Name))
	}
}

// peerKill handles a remote oper killing a user: source is the
// killing party's UID (unused beyond propagation), params is
// [victim-UID, :reason].
func peerKill(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 1 {
		return
	}
	victim, ok := cb.findUserByUID(params[0])
	if !ok {
		return
	}
	reason := ""
	if len(params) > 1 {
		reason = strings.TrimPrefix(params[len(params)-1], ":")
	}
	if victim.isLocal() {
		victim.LocalUser.quit("Killed: " + reason)
	}
	quitUser(cb, victim, "Killed: "+reason)
	cb.forward(ls, fmt.Sprintf(":%s KILL %s", source, strings.Join(params, " ")))
}

// peerMode handles a remote channel mode change: source is the
// acting user's or server's UID/SID, params is [channel, modes,
// ...args]. Only channel modes cross the mesh; user modes are a
// per-server concern.
func peerMode(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 2 {
		return
	}
	target := params[0]
	if !strings.HasPrefix(target, "#") {
		return
	}
	ch, ok := cb.findChannel(target)
	if !ok {
		return
	}

	modeStr := params[1]
	rest := params[2:]
	adding := true
	argIdx := 0

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
			if argIdx < len(rest) {
				if adding {
					_ = ch.addBan(rest[argIdx], 0)
				} else {
					ch.removeBan(rest[argIdx])
				}
				argIdx++
			}
		case 'k':
			if adding && argIdx < len(rest) {
				ch.Key = rest[argIdx]
				ch.Simple |= ModeKey
				argIdx++
			} else if !adding {
				ch.Key = ""
				ch.Simple &^= ModeKey
			}
		case 'l':
			if adding && argIdx < len(rest) {
				n := 0
				_, _ = fmt.Sscanf(rest[argIdx], "%d", &n)
				ch.Limit = n
				ch.Simple |= ModeLimit
				argIdx++
			} else if !adding {
				ch.Limit = 0
				ch.Simple &^= ModeLimit
			}
		case 'o', 'v':
			if argIdx < len(rest) {
				if member, ok := cb.findUserByUID(rest[argIdx]); ok {
					toggleMemberStatus(ch, member, letter, adding)
				}
				argIdx++
			}
		case 'n', 't', 'i', 'm', 's', 'p':
			bit := simpleModeBit[letter]
			if adding {
				ch.Simple |= bit
			} else {
				ch.Simple &^= bit
			}
		}
	}

	cb.writeChannelLocal(ch, nil, fmt.Sprintf("MODE %s %s", ch.Name, strings.Join(params[1:], " ")))
	cb.forward(ls, fmt.Sprintf(":%s MODE %s", source, strings.Join(params, " ")))
}

// peerTopic handles a remote topic change: source is the setting
// user's UID, params is [channel, :topic].
func peerTopic(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 2 {
		return
	}
	ch, ok := cb.findChannel(params[0])
	if !ok {
		return
	}
	topic := strings.TrimPrefix(params[len(params)-1], ":")
	if len(topic) > maxTopicLength {
		topic = topic[:maxTopicLength]
	}
	ch.Topic = topic
	ch.TopicTS = time.Now().Unix()
	if u, ok := cb.findUserByUID(source); ok {
		ch.TopicSetter = u.DisplayNick
		cb.writeChannelLocal(ch, u, fmt.Sprintf("TOPIC %s :%s", ch.Name, topic))
	}
	cb.forward(ls, fmt.Sprintf(":%s TOPIC %s", source, strings.Join(params, " ")))
}

// peerPrivmsg relays a remote PRIVMSG to a local channel or user:
// source is the sending user's UID, params is [target, :text].
func peerPrivmsg(cb *Catbox, ls *LocalServer, source string, params []string) {
	relayPeerMessage(cb, ls, "PRIVMSG", source, params)
}

// peerNotice is peerPrivmsg for NOTICE.
func peerNotice(cb *Catbox, ls *LocalServer, source string, params []string) {
	relayPeerMessage(cb, ls, "NOTICE", source, params)
}

func relayPeerMessage(cb *Catbox, ls *LocalServer, verb, source string, params []string) {
	if len(params) < 2 {
		return
	}
	target, text := params[0], params[1]
	src, ok := cb.findUserByUID(source)
	if !ok {
		return
	}

	if strings.HasPrefix(target, "#") {
		ch, ok := cb.findChannel(target)
		if !ok {
			return
		}
		cb.writeChannelLocal(ch, src, fmt.Sprintf("%s %s :%s", verb, ch.Name, text))
		cb.forward(ls, fmt.Sprintf(":%s %s %s", source, verb, strings.Join(params, " ")))
		return
	}

	dst, ok := cb.findUserByUID(target)
	if !ok || dst.isRemote() {
		return
	}
	cb.writeFrom(dst.LocalUser.LocalClient, src, fmt.Sprintf("%s %s :%s", verb, dst.DisplayNick, text))
}

// peerWallops relays a remote WALLOPS to every local user with +w:
// source is the originating user's or server's UID/SID, params is
// [:text].
func peerWallops(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 1 {
		return
	}
	text := strings.TrimPrefix(params[len(params)-1], ":")
	src, _ := cb.findUserByUID(source)
	cb.writeWallops(src, text)
	cb.forward(ls, fmt.Sprintf(":%s WALLOPS :%s", source, text))
}

func peerSquit(cb *Catbox, ls *LocalServer, source string, params []string) {
	serverSplitCleanUp(cb, ls, "SQUIT")
}

func peerEncap(cb *Catbox, ls *LocalServer, source string, params []string) {
	if len(params) < 2 {
		return
	}
	switch strings.ToUpper(params[1]) {
	case "KLINE":
		if len(params) >= 3 {
			reason := ""
			if len(params) >= 4 {
				reason = strings.TrimPrefix(params[len(params)-1], ":")
			}
			_, _ = addAndApplyKLine(cb, params[2], reason, fold(ls.Server.Name))
		}
	case "UNKLINE":
		if len(params) >= 3 {
			removeKLine(cb, params[2])
		}
	}
	cb.forward(ls, fmt.Sprintf(":%s ENCAP %s", source, strings.Join(params, " ")))
}

func peerError(cb *Catbox, ls *LocalServer, source string, params []string) {
	serverSplitCleanUp(cb, ls, "connection lost")
}
