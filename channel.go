package main

import (
	"sort"
	"strconv"
)

// simpleModeOrder is the canonical rendering order for boolean
// channel modes: n, t, k, l, i, m, s, p.
const simpleModeOrder = "ntklimsp"

// SimpleMode is a bitmask of the channel's boolean modes.
type SimpleMode uint16

const (
	ModeNoExternal SimpleMode = 1 << iota // n
	ModeTopicLock                         // t
	ModeKey                               // k (has a key set; paired with Key field)
	ModeLimit                             // l (has a limit set; paired with Limit field)
	ModeInviteOnly                        // i
	ModeModerated                         // m
	ModeSecret                            // s
	ModePrivate                           // p
)

var simpleModeBit = map[byte]SimpleMode{
	'n': ModeNoExternal,
	't': ModeTopicLock,
	'k': ModeKey,
	'l': ModeLimit,
	'i': ModeInviteOnly,
	'm': ModeModerated,
	's': ModeSecret,
	'p': ModePrivate,
}

// Channel holds everything to do with one channel. It exists in the
// channel-table iff len(Members) > 0; the last part/kick/quit off a
// channel destroys it.
type Channel struct {
	// Name is the display form; Name's folded form is the table key.
	Name string

	TS int64 // creation timestamp, used for SJOIN oldest-wins merges.

	Topic       string
	TopicSetter string
	TopicTS     int64

	Key   string
	Limit int

	Simple SimpleMode

	// CustomModes maps a module-registered mode letter to its
	// parameter (empty string if the mode takes none). Iteration
	// order for rendering is CustomOrder, not map order.
	CustomModes map[byte]string
	CustomOrder []byte

	// Bans holds the channel's +b masks (nick!ident@host globs), in
	// the order they were set. Capped at the configured ban-list
	// limit.
	Bans []string

	// Invites holds the UIDs invited past +i since their invitation,
	// consumed on join.
	Invites map[string]struct{}

	// Members holds the channel-side half of every membership edge,
	// keyed by UID so dedup and removal are O(1).
	Members map[string]*memberEdge
}

// memberEdge is the Channel-side mirror of a User's membership
// entry. It must always agree with the corresponding User.Channels
// entry for the same (user, channel) pair.
type memberEdge struct {
	User   *User
	Status MemberStatus
}

// newChannel creates an empty channel record. The caller is
// responsible for inserting it into the owning Catbox's channel
// table and for adding the first member (who becomes founder+op).
func newChannel(name string, ts int64) *Channel {
	return &Channel{
		Name:        name,
		TS:          ts,
		CustomModes: map[byte]string{},
		Invites:     map[string]struct{}{},
		Members:     map[string]*memberEdge{},
	}
}

// members returns the channel's current members. Order is stable
// between mutations (iteration order of the underlying map is not
// guaranteed by Go, so callers that need determinism, e.g. NAMES,
// should sort the result themselves — which this call does, by
// nick, for that reason).
func (c *Channel) members() []*User {
	users := make([]*User, 0, len(c.Members))
	for _, edge := range c.Members {
		users = append(users, edge.User)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayNick < users[j].DisplayNick
	})
	return users
}

// addMember binds the channel side of a membership edge. Callers
// must also call User.join to keep the edge bidirectional.
func (c *Channel) addMember(u *User, status MemberStatus) {
	c.Members[u.UID] = &memberEdge{User: u, Status: status}
}

// removeMember unbinds the channel side of a membership edge and
// reports whether the channel is now empty (and should be destroyed
// by the caller).
func (c *Channel) removeMember(u *User) (empty bool) {
	delete(c.Members, u.UID)
	return len(c.Members) == 0
}

func (c *Channel) memberStatus(u *User) (MemberStatus, bool) {
	edge, ok := c.Members[u.UID]
	if !ok {
		return 0, false
	}
	return edge.Status, true
}

// addBan appends a ban mask, reporting false if the mask is already
// present or the list is at limit.
func (c *Channel) addBan(mask string, limit int) bool {
	for _, b := range c.Bans {
		if fold(b) == fold(mask) {
			return false
		}
	}
	if limit > 0 && len(c.Bans) >= limit {
		return false
	}
	c.Bans = append(c.Bans, mask)
	return true
}

// removeBan deletes a ban mask, reporting whether it was present.
func (c *Channel) removeBan(mask string) bool {
	for i, b := range c.Bans {
		if fold(b) == fold(mask) {
			c.Bans = append(c.Bans[:i], c.Bans[i+1:]...)
			return true
		}
	}
	return false
}

// banned reports whether u's nick!ident@host matches any ban mask.
func (c *Channel) banned(u *User) bool {
	for _, b := range c.Bans {
		if matchesMask(b, u.String()) {
			return true
		}
	}
	return false
}

// renderModes produces a stable textual rendering of the channel's
// current modes: simple letters in canonical order n,t,k,l,i,m,s,p,
// then custom letters in insertion order. Params follow in the same
// order, key before limit.
func (c *Channel) renderModes() (flags string, params []string) {
	flags = "+"

	for i := 0; i < len(simpleModeOrder); i++ {
		letter := simpleModeOrder[i]
		bit := simpleModeBit[letter]
		if c.Simple&bit == 0 {
			continue
		}
		flags += string(letter)
		switch letter {
		case 'k':
			params = append(params, c.Key)
		case 'l':
			params = append(params, strconv.Itoa(c.Limit))
		}
	}

	for _, letter := range c.CustomOrder {
		flags += string(letter)
		if p := c.CustomModes[letter]; p != "" {
			params = append(params, p)
		}
	}

	return flags, params
}
