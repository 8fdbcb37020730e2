package main

import (
	"fmt"
	"time"

	"github.com/horgh/irc"
)

// writeQueueCap is the maximum number of rendered lines a
// connection's outbound buffer may hold before it is considered
// flooding and disconnected with ExcessFlood.
const writeQueueCap = 4096

// LocalClient is the connection-level state shared by a local user
// connection and a local server (peer) connection. It owns exactly
// one reader goroutine and one writer goroutine; neither touches any
// shared Catbox table directly — they only ever read/write their own
// Conn and post onto/drain their own channels.
type LocalClient struct {
	Catbox *Catbox
	Conn   Conn
	ID     uint64

	Hostname string

	WriteChan    chan string
	ShutdownChan chan struct{}
	closed       bool

	SendQueueExceeded bool

	ConnectionStartTime time.Time

	// OutboundServer marks a connection we initiated to link a peer
	// (CONNECT); the dispatch goroutine sends the handshake intro when
	// it first sees the connection. OutboundPass is the link password
	// to present.
	OutboundServer bool
	OutboundPass   string

	// SentServerIntro records that our PASS/CAPAB/SERVER intro has
	// gone out, so an inbound link doesn't get it twice.
	SentServerIntro bool

	// Pre-registration handshake state, shared shape for both the
	// user path (NICK/USER/PASS) and the server path
	// (PASS/CAPAB/SERVER/SVINFO); a connection resolves to being one
	// or the other the first time it sends SERVER rather than NICK.
	GotNICK   bool
	GotUSER   bool
	GotPASS   bool
	GotCAPAB  bool
	GotSERVER bool

	PreRegNick       string
	PreRegUser       string
	PreRegRealName   string
	PreRegPass       string
	PreRegCapabs     map[string]bool
	PreRegServerName string
	PreRegTS6SID     string
	PreRegServerDesc string
	PreRegHopCount   int
}

// NewLocalClient wraps an accepted connection. Callers must run
// readLoop and writeLoop in their own goroutines.
func NewLocalClient(cb *Catbox, conn Conn) *LocalClient {
	return &LocalClient{
		Catbox:              cb,
		Conn:                conn,
		ID:                  cb.getClientID(),
		Hostname:            conn.IP.String(),
		WriteChan:           make(chan string, writeQueueCap),
		ShutdownChan:        make(chan struct{}),
		ConnectionStartTime: time.Now(),
		PreRegCapabs:        map[string]bool{},
	}
}

// maybeQueueMessage enqueues text for sending without blocking. If
// the outbound buffer is full, the connection is flagged
// SendQueueExceeded (ExcessFlood) instead of blocking the dispatch
// goroutine that called us.
func (lc *LocalClient) maybeQueueMessage(text string) {
	if lc.closed || lc.SendQueueExceeded {
		return
	}
	if lc.Catbox.Modules.runRawSocketWrite(lc.Catbox, lc, text) == Halt {
		return
	}
	select {
	case lc.WriteChan <- text:
	default:
		lc.SendQueueExceeded = true
		lc.Catbox.Logger.WithField("conn", lc.ID).Warn("send queue exceeded")
	}
}

// readLoop blocks reading lines from the connection and hands each
// one to onMessage. It never touches shared Catbox state directly;
// onMessage is responsible for posting an event onto the dispatch
// goroutine's queue.
func (lc *LocalClient) readLoop(onMessage func(string)) {
	for {
		line, err := lc.Conn.Read()
		if err != nil {
			lc.Catbox.newEvent(Event{Type: EventClientDead, Client: lc, Err: err})
			return
		}
		onMessage(line)
	}
}

// writeLoop drains WriteChan and writes each line to the socket
// until ShutdownChan closes or WriteChan is closed by quit.
func (lc *LocalClient) writeLoop() {
	for {
		select {
		case text, ok := <-lc.WriteChan:
			if !ok {
				return
			}
			if err := lc.Conn.Write(text + "\r\n"); err != nil {
				lc.Catbox.newEvent(Event{Type: EventClientDead, Client: lc, Err: err})
				return
			}
		case <-lc.ShutdownChan:
			return
		}
	}
}

// quit tears down the connection: it sends an ERROR line best-effort
// and closes both the socket and WriteChan so writeLoop exits.
func (lc *LocalClient) quit(msg string) {
	if lc.closed {
		return
	}
	lc.closed = true
	_ = lc.Conn.Write(fmt.Sprintf("ERROR :%s\r\n", msg))
	close(lc.WriteChan)
	_ = lc.Conn.Close()
}

// sendServerIntro sends the PASS/CAPAB/SERVER handshake trio as one
// combined call, matching the one actually-defined combined sender
// (as opposed to calling three separate send* methods that were
// referenced but never implemented).
func (lc *LocalClient) sendServerIntro(pass string) {
	lc.SentServerIntro = true
	lc.maybeQueueMessage(fmt.Sprintf("PASS %s TS 6 :%s", pass, lc.Catbox.Config.TS6SID))
	lc.maybeQueueMessage("CAPAB :QS ENCAP EX IE KNOCK SERVICES TB")
	lc.maybeQueueMessage(fmt.Sprintf("SERVER %s 1 :%s", lc.Catbox.Config.ServerName, lc.Catbox.Config.ServerInfo))
}

// sendSVINFO sends the SVINFO line completing our half of the TS6
// handshake.
func (lc *LocalClient) sendSVINFO() {
	lc.maybeQueueMessage(fmt.Sprintf("SVINFO 6 6 0 :%d", time.Now().Unix()))
}

// encodeMessage renders an irc.Message using the shared wire codec,
// for code paths that build a message structurally (server-to-server
// commands) rather than through fanout's pre-rendered strings.
func encodeMessage(m irc.Message) (string, error) {
	buf, err := m.Encode()
	if err != nil {
		return "", err
	}
	if len(buf) >= 2 {
		return buf[:len(buf)-2], nil // Encode appends \r\n; WriteChan adds its own.
	}
	return buf, nil
}
