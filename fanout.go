package main

import "fmt"

// ModeMatch selects how writeMode applies its mask: whether a
// user's current modes must contain ALL of the given letters or ANY
// of them. There is no invalid value; an empty letter set with
// either mode simply matches no one.
type ModeMatch int

const (
	MatchAny ModeMatch = iota
	MatchAll
)

// writeRaw sends text verbatim to one local connection, no prefix.
func (cb *Catbox) writeRaw(lc *LocalClient, text string) {
	lc.maybeQueueMessage(text)
}

// writeServer sends text to one local connection prefixed with this
// server's name.
func (cb *Catbox) writeServer(lc *LocalClient, text string) {
	cb.writeRaw(lc, fmt.Sprintf(":%s %s", cb.Config.ServerName, text))
}

// writeFrom sends text to one local connection prefixed with src's
// nick!ident@host.
func (cb *Catbox) writeFrom(lc *LocalClient, src *User, text string) {
	cb.writeRaw(lc, fmt.Sprintf(":%s %s", src.String(), text))
}

// writeTo sends text to dst, prefixed from src if given, else from
// the server. A remote dst silently drops the write (no local
// socket to enqueue onto).
func (cb *Catbox) writeTo(src *User, dst *User, text string) {
	if dst.isRemote() {
		return
	}
	if src != nil {
		cb.writeFrom(dst.LocalUser.LocalClient, src, text)
		return
	}
	cb.writeServer(dst.LocalUser.LocalClient, text)
}

// writeChannel sends text, from src, to every member of ch. Remote
// members are dropped — peer propagation is a separate concern
// (sendToCommon), not part of this local fanout primitive.
func (cb *Catbox) writeChannel(ch *Channel, src *User, text string) {
	for _, edge := range ch.Members {
		cb.writeTo(src, edge.User, text)
	}
}

// writeChannelLocal sends text, from src, to every local member of
// ch except src itself. A nil src renders with the server prefix
// instead of a user prefix.
func (cb *Catbox) writeChannelLocal(ch *Channel, src *User, text string) {
	for _, edge := range ch.Members {
		member := edge.User
		if member.isRemote() || member == src {
			continue
		}
		if src != nil {
			cb.writeFrom(member.LocalUser.LocalClient, src, text)
		} else {
			cb.writeServer(member.LocalUser.LocalClient, text)
		}
	}
}

// commonLocalUsers returns every local user sharing at least one
// channel with u, deduplicated by UID, including u itself if
// includeSelf. Dedup is required: without it a user in N shared
// channels would receive N copies of a fanned-out line.
func commonLocalUsers(u *User, includeSelf bool) []*User {
	seen := map[string]*User{}
	if includeSelf && u.isLocal() {
		seen[u.UID] = u
	}
	for _, m := range u.Channels {
		for _, edge := range m.Channel.Members {
			other := edge.User
			if other.isRemote() {
				continue
			}
			if other == u && !includeSelf {
				continue
			}
			seen[other.UID] = other
		}
	}
	out := make([]*User, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out
}

// writeCommon sends text, from u, to every local user sharing ≥1
// channel with u, including u. A channel-less user still receives
// exactly one copy of their own message (self-notification case,
// e.g. a NICK change while alone).
func (cb *Catbox) writeCommon(u *User, text string) {
	for _, recipient := range commonLocalUsers(u, true) {
		cb.writeFrom(recipient.LocalUser.LocalClient, u, text)
	}
}

// writeCommonExcept is writeCommon without delivering to u itself.
func (cb *Catbox) writeCommonExcept(u *User, text string) {
	for _, recipient := range commonLocalUsers(u, false) {
		cb.writeFrom(recipient.LocalUser.LocalClient, u, text)
	}
}

// writeOpers sends text, as a server notice, to every local oper
// with the +s server-notice mode set.
func (cb *Catbox) writeOpers(text string) {
	for _, u := range cb.Opers {
		if u.isRemote() {
			continue
		}
		if _, ok := u.Modes['s']; !ok {
			continue
		}
		cb.writeServer(u.LocalUser.LocalClient, fmt.Sprintf("NOTICE %s :*** Notice -- %s", u.DisplayNick, text))
	}
}

// writeMode sends text, as a server notice, to every local user
// whose current mode set satisfies letters under match.
func (cb *Catbox) writeMode(letters string, match ModeMatch, text string) {
	for _, u := range cb.Nicks {
		if u.isRemote() {
			continue
		}
		if !modeMaskSatisfied(u, letters, match) {
			continue
		}
		cb.writeServer(u.LocalUser.LocalClient, fmt.Sprintf("NOTICE %s :%s", u.DisplayNick, text))
	}
}

func modeMaskSatisfied(u *User, letters string, match ModeMatch) bool {
	if len(letters) == 0 {
		return false
	}
	switch match {
	case MatchAll:
		for i := 0; i < len(letters); i++ {
			if _, ok := u.Modes[letters[i]]; !ok {
				return false
			}
		}
		return true
	default: // MatchAny
		for i := 0; i < len(letters); i++ {
			if _, ok := u.Modes[letters[i]]; ok {
				return true
			}
		}
		return false
	}
}

// writeWallops sends text, from src, to every local user with +w.
func (cb *Catbox) writeWallops(src *User, text string) {
	for _, u := range cb.Nicks {
		if u.isRemote() {
			continue
		}
		if _, ok := u.Modes['w']; !ok {
			continue
		}
		cb.writeFrom(u.LocalUser.LocalClient, src, fmt.Sprintf("WALLOPS :%s", text))
	}
}
