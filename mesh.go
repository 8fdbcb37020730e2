package main

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// MeshSlotCount is the fixed number of peer "mesh" groups. A hard
// wire-compatibility invariant, not an implementation convenience;
// it must stay 32.
const MeshSlotCount = 32

// MeshSlot groups the peers assigned to it. Peers are assigned a
// slot by hashing their SID so that, across restarts with the same
// peer set, slot membership is stable.
type MeshSlot struct {
	Peers []*Server
}

func slotFor(sid string) int {
	if len(sid) == 0 {
		return 0
	}
	sum := 0
	for i := 0; i < len(sid); i++ {
		sum = sum*31 + int(sid[i])
	}
	if sum < 0 {
		sum = -sum
	}
	return sum % MeshSlotCount
}

// addPeer assigns srv to its mesh slot, allocating the slot on first
// use.
func (cb *Catbox) addPeer(srv *Server) {
	idx := slotFor(srv.SID)
	if cb.Mesh[idx] == nil {
		cb.Mesh[idx] = &MeshSlot{}
	}
	cb.Mesh[idx].Peers = append(cb.Mesh[idx].Peers, srv)
}

// removePeer clears srv from its mesh slot. Called synchronously as
// part of netsplit cleanup so a stale entry can never shadow-match a
// later findServerDescription scan.
func (cb *Catbox) removePeer(srv *Server) {
	idx := slotFor(srv.SID)
	slot := cb.Mesh[idx]
	if slot == nil {
		return
	}
	for i, p := range slot.Peers {
		if p == srv {
			slot.Peers = append(slot.Peers[:i], slot.Peers[i+1:]...)
			return
		}
	}
}

// findServerDescription returns the description for a named server.
// Every slot's peer list is scanned for a name match first; the
// local server's own description is only the fallback once the full
// scan comes up empty.
func (cb *Catbox) findServerDescription(name string) string {
	folded := fold(name)
	for _, slot := range cb.Mesh {
		if slot == nil {
			continue
		}
		for _, peer := range slot.Peers {
			if fold(peer.Name) == folded {
				return peer.Description
			}
		}
	}
	return cb.Config.ServerInfo
}

// getLinkedServers returns every Server reachable through srv —
// i.e., every peer whose path to us passes through srv. Used by
// netsplit cleanup to know which users/servers to remove when srv's
// connection drops.
func (cb *Catbox) getLinkedServers(srv *Server) []*Server {
	var linked []*Server
	var walk func(*Server)
	seen := map[string]bool{}
	walk = func(s *Server) {
		for _, candidate := range cb.ServersBySID {
			if candidate.HopCount <= s.HopCount {
				continue
			}
			if seen[candidate.SID] {
				continue
			}
			seen[candidate.SID] = true
			linked = append(linked, candidate)
			walk(candidate)
		}
	}
	walk(srv)
	return linked
}

// sendToAll sends line to every peer in every mesh slot, running the
// transmit hook first and stamping a fresh sum.
func (cb *Catbox) sendToAll(line string) {
	cb.sendToAllWithSum(line, newSum())
}

// sendToAllAlive is like sendToAll but only to peers whose
// connection is actually up (every Server in the mesh with a
// LocalServer is, by construction, alive — disconnected peers are
// removed from the mesh immediately on SQUIT).
func (cb *Catbox) sendToAllAlive(line string) {
	cb.sendToAll(line)
}

func (cb *Catbox) sendToOne(name, line string) {
	folded := fold(name)
	for _, slot := range cb.Mesh {
		if slot == nil {
			continue
		}
		for _, peer := range slot.Peers {
			if fold(peer.Name) == folded && peer.LocalServer != nil {
				cb.transmit(peer.LocalServer, newSum()+" "+line)
				return
			}
		}
	}
}

func (cb *Catbox) sendToAllExcept(exceptName, line string) {
	cb.sendToAllExceptWithSum(exceptName, line, newSum())
}

// sendToCommon sends line, stamped with one fresh sum, to every peer
// hosting a user sharing a channel with u.
func (cb *Catbox) sendToCommon(u *User, line string) {
	targets := map[string]*Server{}
	for _, m := range u.Channels {
		for _, edge := range m.Channel.Members {
			other := edge.User
			if other.isLocal() {
				continue
			}
			srv, ok := cb.ServersByName[fold(other.ServerName)]
			if !ok || srv.LocalServer == nil {
				continue
			}
			targets[srv.SID] = srv
		}
	}
	framed := newSum() + " " + line
	for _, srv := range targets {
		cb.transmit(srv.LocalServer, framed)
	}
}

func (cb *Catbox) sendToAllWithSum(line, sum string) {
	framed := sum + " " + line
	for _, slot := range cb.Mesh {
		if slot == nil {
			continue
		}
		for _, peer := range slot.Peers {
			if peer.LocalServer != nil {
				cb.transmit(peer.LocalServer, framed)
			}
		}
	}
}

func (cb *Catbox) sendToAllExceptWithSum(exceptName, line, sum string) {
	exceptFolded := fold(exceptName)
	framed := sum + " " + line
	for _, slot := range cb.Mesh {
		if slot == nil {
			continue
		}
		for _, peer := range slot.Peers {
			if peer.LocalServer == nil {
				continue
			}
			if fold(peer.Name) == exceptFolded {
				continue
			}
			cb.transmit(peer.LocalServer, framed)
		}
	}
}

// transmit runs the packet-transmit hook and, unless a module halted
// it, queues the line on the peer's outbound connection.
func (cb *Catbox) transmit(ls *LocalServer, line string) {
	decision := cb.Modules.runPacketTransmit(cb, ls, line)
	if decision == Halt {
		return
	}
	ls.maybeQueueMessage(line)
}

// sendToPeer stamps a fresh sum on line and queues it on one peer.
func (cb *Catbox) sendToPeer(ls *LocalServer, line string) {
	cb.transmit(ls, newSum()+" "+line)
}

// forward re-sends a packet received from ls to every other peer,
// preserving the inbound sum (when there was one) so a cycle in the
// mesh is detected by the sum cache and dropped instead of
// propagating forever.
func (cb *Catbox) forward(ls *LocalServer, line string) {
	sum := ls.inboundSum
	if sum == "" {
		sum = newSum()
	}
	cb.sendToAllExceptWithSum(ls.Server.Name, line, sum)
}

// newSum generates a short routing nonce used by peers to detect
// duplicate propagation of the same packet.
func newSum() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// splitSum splits a peer line into its sum prefix and the rest, when
// the first token has the 8-hex-char sum shape. TS6 verbs are upper
// case and numerics are three digits, so a sum token is never
// ambiguous with a real first token.
func splitSum(line string) (sum, rest string, ok bool) {
	if len(line) < 10 || line[8] != ' ' {
		return "", line, false
	}
	for i := 0; i < 8; i++ {
		c := line[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", line, false
		}
	}
	return line[:8], line[9:], true
}

// sumCache is a short-TTL duplicate-detection cache for inbound
// peer-forwarded packets, keyed by sum.
type sumCache struct {
	mu  sync.Mutex
	ttl time.Duration
	seen map[string]time.Time
}

func newSumCache(ttl time.Duration) *sumCache {
	return &sumCache{ttl: ttl, seen: map[string]time.Time{}}
}

// seenRecently records sum and reports whether it had already been
// recorded within the TTL window — i.e., whether the packet carrying
// it should be dropped as a duplicate.
func (c *sumCache) seenRecently(sum string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for s, t := range c.seen {
		if now.Sub(t) > c.ttl {
			delete(c.seen, s)
		}
	}

	if _, ok := c.seen[sum]; ok {
		return true
	}
	c.seen[sum] = now
	return false
}
