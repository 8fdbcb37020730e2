package main

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Catbox is the server's context: every process-wide table the
// dispatcher, fanout engine, and peer fabric operate on. It is
// threaded through as a receiver rather than kept in package
// globals, per the re-architecture the daemon's design calls for.
//
// Every field here is mutated only from the single dispatch
// goroutine (run()); no lock is needed, but nothing outside that
// goroutine may touch them directly — reader/writer goroutines
// communicate through EventChan instead.
type Catbox struct {
	Config Config
	// ConfigPath is where Config was loaded from, kept so REHASH can
	// re-read it. Empty in tests that build a Config directly.
	ConfigPath string

	Logger *logrus.Logger

	// Nicks maps a folded nickname to the User currently holding it.
	Nicks map[string]*User
	// UIDToUser maps a TS6 UID to its User, local or remote.
	UIDToUser map[string]*User

	// Channels maps a folded channel name to its Channel.
	Channels map[string]*Channel

	// Opers holds every currently-oper'd user, keyed by UID. It must
	// always equal exactly the set of users with mode +o.
	Opers map[string]*User

	// ServersBySID maps a TS6 SID to the Server it names.
	ServersBySID map[string]*Server
	// ServersByName maps a folded server name to the Server it names.
	ServersByName map[string]*Server

	// Mesh is the fixed-capacity peer fabric: up to 32 slots, each
	// holding the peers grouped into it. This shape is a hard wire
	// invariant, not an implementation convenience.
	Mesh [MeshSlotCount]*MeshSlot

	// The ban-line family shares one record shape: KLines match
	// ident@host, ZLines match the connecting IP, QLines forbid nick
	// masks, ELines exempt ident@host from K- and Z-lines.
	KLines []*KLine
	ZLines []*KLine
	QLines []*KLine
	ELines []*KLine

	// WhoWas is a bounded history of departed users, newest last,
	// serving the WHOWAS command.
	WhoWas []WhoWasEntry

	Commands *CommandTable
	Modules  *ModuleHost
	Metrics  *Metrics
	Stats    Stats

	Listener net.Listener

	// Conns tracks every live connection by its LocalClient ID until
	// (and after) it resolves to being a user or a peer server. A
	// connection is classified the moment its first handshake-shaped
	// line arrives; until then neither side of the union is set.
	Conns map[uint64]*connState

	// EventChan is the single funnel every connection's reader
	// goroutine posts events onto. Exactly one goroutine (run) drains
	// it, which is what makes the shared tables above safe without a
	// lock.
	EventChan chan Event

	ShutdownChan chan struct{}
	shuttingDown bool

	StartTime time.Time

	nextClientID uint64
	dedupCache   *sumCache
}

// Stats are the global, monotonically-increasing counters exposed by
// STATS and the Prometheus exporter.
type Stats struct {
	BytesSent     uint64
	BytesRecv     uint64
	Accepts       uint64
	Refused       uint64
	NickCollision uint64
	KLineHits     uint64
	Commands      uint64
}

// EventType discriminates the union carried on EventChan.
type EventType int

const (
	EventNewClient EventType = iota
	EventClientMessage
	EventClientDead
	EventAlarm
	EventShutdown
)

// Event is one unit of work posted onto the dispatch goroutine's
// queue. Exactly one field matching Type is meaningful.
type Event struct {
	Type EventType

	Client *LocalClient
	Line   string
	Err    error
}

// NewCatbox allocates a fresh server context. It does not yet listen
// on a socket; call Listen separately so tests can construct a
// Catbox without binding a port.
func NewCatbox(config Config) *Catbox {
	logger := logrus.New()

	cb := &Catbox{
		Config:        config,
		Logger:        logger,
		Nicks:         map[string]*User{},
		UIDToUser:     map[string]*User{},
		Channels:      map[string]*Channel{},
		Opers:         map[string]*User{},
		ServersBySID:  map[string]*Server{},
		ServersByName: map[string]*Server{},
		Commands:      newCommandTable(),
		Modules:       newModuleHost(),
		Metrics:       newMetrics(),
		Conns:         map[uint64]*connState{},
		EventChan:     make(chan Event, 4096),
		ShutdownChan:  make(chan struct{}),
		StartTime:     time.Now(),
		dedupCache:    newSumCache(30 * time.Second),
	}

	registerCoreCommands(cb)
	registerBuiltinModules(cb)

	return cb
}

// newEvent posts an event onto the dispatch queue. Called from
// reader/writer goroutines; never from the dispatch goroutine itself.
func (cb *Catbox) newEvent(e Event) {
	select {
	case cb.EventChan <- e:
	case <-cb.ShutdownChan:
	}
}

// getClientID returns a fresh per-run monotonic connection ID, used
// to mint TS6 UIDs. Only called from the dispatch goroutine, so a
// plain counter (not atomic) would also be safe, but we use atomic
// so tests may mint IDs from other goroutines without caring which
// one they're on.
func (cb *Catbox) getClientID() uint64 {
	return atomic.AddUint64(&cb.nextClientID, 1) - 1
}

func (cb *Catbox) isShuttingDown() bool {
	return cb.shuttingDown
}

// shutdown tears down the listener and signals every connection
// goroutine to stop via ShutdownChan.
func (cb *Catbox) shutdown() {
	if cb.shuttingDown {
		return
	}
	cb.shuttingDown = true
	if cb.Listener != nil {
		_ = cb.Listener.Close()
	}
	close(cb.ShutdownChan)
}

// findUser looks up a user by display nickname, folding it first.
func (cb *Catbox) findUser(nick string) (*User, bool) {
	u, ok := cb.Nicks[fold(nick)]
	return u, ok
}

func (cb *Catbox) findUserByUID(uid string) (*User, bool) {
	u, ok := cb.UIDToUser[uid]
	return u, ok
}

// findChannel looks up a channel by display name, folding it first.
func (cb *Catbox) findChannel(name string) (*Channel, bool) {
	c, ok := cb.Channels[fold(name)]
	return c, ok
}

// insertUser adds u to both the nick-table and the UID-table. It
// fails with ErrDuplicateName if the folded nick is already taken.
func (cb *Catbox) insertUser(u *User) error {
	key := u.canonicalNick()
	if _, exists := cb.Nicks[key]; exists {
		return fmt.Errorf("insert user %s: %w", u.DisplayNick, ErrDuplicateName)
	}
	cb.Nicks[key] = u
	cb.UIDToUser[u.UID] = u
	return nil
}

func (cb *Catbox) removeUser(u *User) {
	delete(cb.Nicks, u.canonicalNick())
	delete(cb.UIDToUser, u.UID)
	delete(cb.Opers, u.UID)
}

// renameUser moves a user's nick-table entry, used by NICK changes.
func (cb *Catbox) renameUser(u *User, newNick string) error {
	newKey := fold(newNick)
	if _, exists := cb.Nicks[newKey]; exists {
		return fmt.Errorf("rename user to %s: %w", newNick, ErrDuplicateName)
	}
	delete(cb.Nicks, u.canonicalNick())
	u.DisplayNick = newNick
	cb.Nicks[newKey] = u
	return nil
}

func (cb *Catbox) insertChannel(c *Channel) error {
	key := fold(c.Name)
	if _, exists := cb.Channels[key]; exists {
		return fmt.Errorf("insert channel %s: %w", c.Name, ErrDuplicateName)
	}
	cb.Channels[key] = c
	return nil
}

func (cb *Catbox) removeChannel(c *Channel) {
	delete(cb.Channels, fold(c.Name))
}

// maxWhoWasEntries bounds the WHOWAS history; the oldest entry is
// evicted once the cap is reached.
const maxWhoWasEntries = 1024

// WhoWasEntry is one departed user's identity snapshot.
type WhoWasEntry struct {
	Nick       string
	Username   string
	Host       string
	RealName   string
	ServerName string
	Seen       time.Time
}

// recordWhoWas snapshots u into the WHOWAS history. Called from the
// quit path, before the user record is destroyed.
func (cb *Catbox) recordWhoWas(u *User) {
	cb.WhoWas = append(cb.WhoWas, WhoWasEntry{
		Nick:       u.DisplayNick,
		Username:   u.Username,
		Host:       u.DispHost,
		RealName:   u.RealName,
		ServerName: u.ServerName,
		Seen:       time.Now(),
	})
	if len(cb.WhoWas) > maxWhoWasEntries {
		cb.WhoWas = cb.WhoWas[len(cb.WhoWas)-maxWhoWasEntries:]
	}
}

// noticeOpers sends text, prefixed with the local server name and a
// NOTICE numeric form, to every local oper regardless of server
// notice mode.
func (cb *Catbox) noticeOpers(text string) {
	for _, u := range cb.Opers {
		if u.isLocal() {
			u.write(fmt.Sprintf(":%s NOTICE %s :%s", cb.Config.ServerName, u.DisplayNick, text))
		}
	}
}

// noticeLocalOpers is like noticeOpers but only ever reaches opers
// with the +s server-notice mode set — the set writeOpers fans out
// to.
func (cb *Catbox) noticeLocalOpers(text string) {
	cb.writeOpers(text)
}

// isLinkedToServer reports whether name (any case) currently names a
// server we have a path to, local or through the mesh.
func (cb *Catbox) isLinkedToServer(name string) bool {
	_, ok := cb.ServersByName[fold(name)]
	return ok
}
