package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlotForIsStable(t *testing.T) {
	assert.Equal(t, slotFor("1AB"), slotFor("1AB"))
	assert.True(t, slotFor("1AB") >= 0 && slotFor("1AB") < MeshSlotCount)
}

func TestAddRemovePeer(t *testing.T) {
	cb := newTestCatbox()
	srv := &Server{SID: "2AB", Name: "peer.example"}

	cb.addPeer(srv)
	idx := slotFor(srv.SID)
	assert.Contains(t, cb.Mesh[idx].Peers, srv)

	cb.removePeer(srv)
	assert.NotContains(t, cb.Mesh[idx].Peers, srv)
}

// TestFindServerDescriptionScansEverySlot is the regression case for
// the corrected GetServerDescription: a peer sitting in a slot other
// than 0 must still be found, not shadowed by an early return from an
// empty slot 0.
func TestFindServerDescriptionScansEverySlot(t *testing.T) {
	cb := newTestCatbox()
	cb.Config.ServerInfo = "local fallback"

	var target *Server
	for sid := 0; sid < 1000; sid++ {
		candidate := &Server{SID: sidFromInt(sid), Name: "far.example", Description: "far away"}
		if slotFor(candidate.SID) != 0 {
			target = candidate
			break
		}
	}
	if target == nil {
		t.Fatal("could not find a SID hashing outside slot 0")
	}

	cb.addPeer(target)

	assert.Equal(t, "far away", cb.findServerDescription("far.example"))
	assert.Equal(t, "local fallback", cb.findServerDescription("unknown.example"))
}

func sidFromInt(n int) string {
	digits := "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	return string([]byte{
		digits[n%10],
		digits[(n/10)%36],
		digits[(n/360)%36],
	})
}

func TestGetLinkedServersWalksByHopCount(t *testing.T) {
	cb := newTestCatbox()
	near := &Server{SID: "2AA", Name: "near.example", HopCount: 1}
	far := &Server{SID: "2AB", Name: "far.example", HopCount: 2}
	cb.ServersBySID[near.SID] = near
	cb.ServersBySID[far.SID] = far

	linked := cb.getLinkedServers(near)
	assert.Contains(t, linked, far)
	assert.NotContains(t, linked, near)
}

func TestSumCacheDetectsDuplicates(t *testing.T) {
	c := newSumCache(50 * time.Millisecond)

	assert.False(t, c.seenRecently("abc"), "first sight is never a duplicate")
	assert.True(t, c.seenRecently("abc"), "second sight within the TTL window is a duplicate")

	time.Sleep(60 * time.Millisecond)
	assert.False(t, c.seenRecently("abc"), "expired entries should be treated as new")
}

func TestSplitSum(t *testing.T) {
	sum := newSum()
	got, rest, ok := splitSum(sum + " :1AB PRIVMSG #x :hi")
	assert.True(t, ok)
	assert.Equal(t, sum, got)
	assert.Equal(t, ":1AB PRIVMSG #x :hi", rest)
}

func TestSplitSumLeavesOrdinaryLinesAlone(t *testing.T) {
	for _, line := range []string{
		":1AB PING :x",
		"PING :x",
		"",
		"deadbeef",
	} {
		_, rest, ok := splitSum(line)
		assert.False(t, ok, "line %q must not parse as sum-framed", line)
		assert.Equal(t, line, rest)
	}
}
