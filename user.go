package main

import (
	"fmt"

	"github.com/pkg/errors"
)

// MaxChans is the maximum number of channels a single user may be
// joined to at once.
const MaxChans = 50

// RegState is a user's position in the registration state machine.
type RegState int

const (
	RegNew RegState = iota
	RegGotNick
	RegGotUser
	RegModulesReady
	RegRegistered
)

func (s RegState) String() string {
	switch s {
	case RegNew:
		return "new"
	case RegGotNick:
		return "got-nick"
	case RegGotUser:
		return "got-user"
	case RegModulesReady:
		return "modules-ready"
	case RegRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// ErrTooManyChannels is returned by User.join when the user is
// already at MaxChans.
var ErrTooManyChannels = errors.New("too many channels")

// ErrAlreadyJoined is returned by User.join when the user already
// has a membership edge on the channel.
var ErrAlreadyJoined = errors.New("already joined")

// MemberStatus is a bitmask of the prefix flags a membership edge can
// carry.
type MemberStatus uint8

const (
	StatusVoice MemberStatus = 1 << iota
	StatusHalfop
	StatusOp
	StatusFounder
)

// membership is one edge of the user<->channel bidirectional graph,
// held on the User side. Channel.Members holds the mirror edge.
type membership struct {
	Channel *Channel
	Status  MemberStatus
}

// User is a client or server-introduced identity in the nick-table.
// A local user has LocalUser set; a remote user (introduced by a
// peer) does not, and User.write becomes a silent no-op for it.
type User struct {
	UID string // TS6 UID, globally unique.

	DisplayNick string
	NickTS      int64 // connection/nick timestamp, used for collision tie-break.

	Username string // ident
	RealHost string
	DispHost string // cloaked/displayed host
	RealName string

	Modes map[byte]struct{}

	// AwayMessage is set while the user is marked away, empty
	// otherwise.
	AwayMessage string

	// Channels is the bounded membership list. Order is insertion
	// order; callers must tolerate reordering after any mutation.
	Channels []*membership

	RegState RegState

	// ServerName is the name of the server this user is connected to
	// (local or remote).
	ServerName string

	// LocalUser is set iff this user has a connection on this server.
	LocalUser *LocalUser
}

func (u *User) canonicalNick() string {
	return fold(u.DisplayNick)
}

// String renders a user as nick!user@host, the form used in message
// prefixes.
func (u *User) String() string {
	return fmt.Sprintf("%s!%s@%s", u.DisplayNick, u.Username, u.DispHost)
}

func (u *User) isOperator() bool {
	_, ok := u.Modes['o']
	return ok
}

func (u *User) isLocal() bool {
	return u.LocalUser != nil
}

func (u *User) isRemote() bool {
	return u.LocalUser == nil
}

// setMode toggles a user mode letter and keeps the owning Catbox's
// opers index consistent when the letter is 'o'.
func (u *User) setMode(cb *Catbox, letter byte, on bool) {
	if on {
		if _, already := u.Modes[letter]; already {
			return
		}
		u.Modes[letter] = struct{}{}
	} else {
		if _, present := u.Modes[letter]; !present {
			return
		}
		delete(u.Modes, letter)
	}

	if letter != 'o' {
		return
	}

	if on {
		cb.Opers[u.UID] = u
	} else {
		delete(cb.Opers, u.UID)
	}
}

// modesString renders the currently set user modes, e.g. "+io".
func (u *User) modesString() string {
	s := "+"
	for letter := range u.Modes {
		s += string(letter)
	}
	return s
}

// onChannel reports whether the user has a membership edge on ch.
func (u *User) onChannel(ch *Channel) (*membership, bool) {
	for _, m := range u.Channels {
		if m.Channel == ch {
			return m, true
		}
	}
	return nil, false
}

// join appends a membership edge for ch. It is the User-side half of
// joinUserToChannel; callers are expected to also call
// Channel.addMember to keep the edge bidirectional.
func (u *User) join(ch *Channel, status MemberStatus) error {
	if _, already := u.onChannel(ch); already {
		return ErrAlreadyJoined
	}
	if len(u.Channels) >= MaxChans {
		return ErrTooManyChannels
	}
	u.Channels = append(u.Channels, &membership{Channel: ch, Status: status})
	return nil
}

// part removes the membership edge for ch, if any. Status is not
// preserved across part/rejoin: rejoining always starts unprivileged.
func (u *User) part(ch *Channel) {
	for i, m := range u.Channels {
		if m.Channel == ch {
			u.Channels = append(u.Channels[:i], u.Channels[i+1:]...)
			return
		}
	}
}

// write enqueues a rendered line to the user's output buffer. It is
// silent for remote users, which have no local output buffer.
func (u *User) write(line string) {
	if u.LocalUser == nil {
		return
	}
	u.LocalUser.maybeQueueMessage(line)
}
