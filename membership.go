package main

import (
	"fmt"
	"strings"
	"time"
)

// 50 is the RFC channel-name limit; 300 caps topics well under the
// wire line limit.
const maxChannelLength = 50
const maxTopicLength = 300

func isValidChannelName(name string) bool {
	if len(name) == 0 || len(name) > maxChannelLength {
		return false
	}
	switch name[0] {
	case '#', '&', '+':
	default:
		return false
	}
	for i := 1; i < len(name); i++ {
		switch name[i] {
		case ' ', ',', '\a', 0:
			return false
		}
	}
	return true
}

// joinUserToChannel implements the membership lifecycle's join path:
// validate → find-or-create (creator becomes founder+op) → check
// invite-only/key/limit → bind the edge on both sides → fan out JOIN
// → send topic and NAMES to the joiner.
func joinUserToChannel(cb *Catbox, u *User, name string, key string) error {
	if !isValidChannelName(name) {
		u.write(cb.numeric(ErrNoSuchChannel, u.DisplayNick, name+" :No such channel"))
		return ErrNotFound
	}

	ch, existed := cb.findChannel(name)
	status := MemberStatus(0)

	if !existed {
		ch = newChannel(name, time.Now().Unix())
		ch.Simple = ModeNoExternal | ModeTopicLock
		if err := cb.insertChannel(ch); err != nil {
			return err
		}
		status = StatusFounder | StatusOp
		cb.Modules.runChannelCreate(cb, ch)
	} else {
		_, invited := ch.Invites[u.UID]
		if ch.Limit > 0 && len(ch.Members) >= ch.Limit {
			u.write(cb.numeric(ErrChannelIsFull, u.DisplayNick, name+" :Cannot join channel (+l)"))
			return ErrLimitExceeded
		}
		if ch.Simple&ModeKey != 0 && ch.Key != key {
			u.write(cb.numeric(ErrBadChannelKey, u.DisplayNick, name+" :Cannot join channel (+k)"))
			return ErrPermissionDenied
		}
		if ch.Simple&ModeInviteOnly != 0 && !invited {
			u.write(cb.numeric(ErrInviteOnlyChan, u.DisplayNick, name+" :Cannot join channel (+i)"))
			return ErrPermissionDenied
		}
		if ch.banned(u) && !invited {
			u.write(cb.numeric(ErrBannedFromChan, u.DisplayNick, name+" :Cannot join channel (+b)"))
			return ErrPermissionDenied
		}
	}

	if cb.Modules.runJoin(cb, u, ch) == Halt {
		if !existed {
			cb.removeChannel(ch)
		}
		return ErrModuleVeto
	}

	delete(ch.Invites, u.UID)

	if err := u.join(ch, status); err != nil {
		if !existed {
			cb.removeChannel(ch)
		}
		if err == ErrTooManyChannels {
			u.write(cb.numeric(ErrTooManyChannels2, u.DisplayNick, name+" :You have joined too many channels"))
		}
		return err
	}
	ch.addMember(u, status)

	cb.writeChannel(ch, u, fmt.Sprintf("JOIN :%s", ch.Name))

	if !existed {
		flags, params := ch.renderModes()
		line := "MODE " + ch.Name + " " + flags
		if len(params) > 0 {
			line += " " + strings.Join(params, " ")
		}
		cb.writeServer(u.LocalUser.LocalClient, line)
	}

	sendTopic(cb, u, ch)
	sendNames(cb, u, ch)

	if u.isLocal() {
		cb.sendToAll(fmt.Sprintf(":%s JOIN %d %s +", u.UID, ch.TS, ch.Name))
	}

	return nil
}

func sendTopic(cb *Catbox, u *User, ch *Channel) {
	if ch.Topic == "" {
		u.write(cb.numeric(RplNoTopic, u.DisplayNick, ch.Name+" :No topic is set"))
		return
	}
	u.write(cb.numeric(RplTopic, u.DisplayNick, ch.Name+" :"+ch.Topic))
}

// sendNames sends the NAMES reply, splitting across multiple 353
// lines (each sharing the same header) if the member list would
// otherwise exceed 480 bytes.
func sendNames(cb *Catbox, u *User, ch *Channel) {
	header := fmt.Sprintf("= %s :", ch.Name)
	const limit = 480

	var line strings.Builder
	line.WriteString(header)
	count := 0

	flush := func() {
		if count > 0 {
			u.write(cb.numeric(RplNamReply, u.DisplayNick, line.String()))
		}
		line.Reset()
		line.WriteString(header)
		count = 0
	}

	for _, member := range ch.members() {
		status, _ := ch.memberStatus(member)
		entry := prefixForStatus(status) + member.DisplayNick
		if count > 0 {
			entry = " " + entry
		}
		if line.Len()+len(entry) > limit {
			flush()
			entry = prefixForStatus(status) + member.DisplayNick
		}
		line.WriteString(entry)
		count++
	}
	flush()

	u.write(cb.numeric(RplEndOfNames, u.DisplayNick, ch.Name+" :End of /NAMES list"))
}

func prefixForStatus(s MemberStatus) string {
	switch {
	case s&StatusFounder != 0, s&StatusOp != 0:
		return "@"
	case s&StatusHalfop != 0:
		return "%"
	case s&StatusVoice != 0:
		return "+"
	default:
		return ""
	}
}

// partUserFromChannel implements the membership lifecycle's part
// path: fan out the part notice, remove the edge on both sides, then
// destroy the channel if it is now empty. This is the sole
// garbage-collection point for channels.
func partUserFromChannel(cb *Catbox, u *User, ch *Channel, reason string) {
	if cb.Modules.runPart(cb, u, ch) == Halt {
		return
	}

	line := "PART " + ch.Name
	if reason != "" {
		line += " :" + reason
	}
	cb.writeChannel(ch, u, line)

	u.part(ch)
	if empty := ch.removeMember(u); empty {
		cb.removeChannel(ch)
	}
}

// kickUserFromChannel implements the kick variant of the part path:
// the notice carries the kicker and reason, and the same
// destroy-on-empty rule applies. Reports whether the kick was
// performed (false when a module vetoed it), so callers know whether
// to propagate.
func kickUserFromChannel(cb *Catbox, kicker, target *User, ch *Channel, reason string) bool {
	if cb.Modules.runKick(cb, kicker, target, ch, reason) == Halt {
		return false
	}

	cb.writeChannel(ch, kicker, fmt.Sprintf("KICK %s %s :%s", ch.Name, target.DisplayNick, reason))

	target.part(ch)
	if empty := ch.removeMember(target); empty {
		cb.removeChannel(ch)
	}
	return true
}

// quitUser implements the membership lifecycle's quit path: for
// every channel the user is on, fan out the quit notice once per
// channel's local membership (deduplicated via writeCommonExcept at
// the caller), remove every edge, and destroy any channel left
// empty — run synchronously, before the dispatch goroutine processes
// the next line.
func quitUser(cb *Catbox, u *User, reason string) {
	cb.Modules.runUserQuit(cb, u, reason)

	cb.writeCommonExcept(u, fmt.Sprintf("QUIT :%s", reason))

	for _, m := range append([]*membership{}, u.Channels...) {
		ch := m.Channel
		u.part(ch)
		if empty := ch.removeMember(u); empty {
			cb.removeChannel(ch)
		}
	}

	cb.recordWhoWas(u)
	cb.removeUser(u)
}
