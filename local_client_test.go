package main

import (
	"testing"

	"github.com/horgh/irc"
	"github.com/stretchr/testify/assert"
)

func TestMaybeQueueMessageFlagsExcessFlood(t *testing.T) {
	cb := newTestCatbox()
	lc := NewLocalClient(cb, Conn{})

	for i := 0; i < writeQueueCap; i++ {
		lc.maybeQueueMessage("PING :x")
	}
	assert.False(t, lc.SendQueueExceeded)

	lc.maybeQueueMessage("PING :overflow")
	assert.True(t, lc.SendQueueExceeded, "queueing past capacity must flag excess flood rather than block")
}

func TestMaybeQueueMessageIsNoopOnceFlagged(t *testing.T) {
	cb := newTestCatbox()
	lc := NewLocalClient(cb, Conn{})
	lc.SendQueueExceeded = true

	lc.maybeQueueMessage("PING :dropped")
	assert.Len(t, lc.WriteChan, 0)
}

func TestMaybeQueueMessageIsNoopAfterClosed(t *testing.T) {
	cb := newTestCatbox()
	lc := NewLocalClient(cb, Conn{})
	lc.closed = true

	lc.maybeQueueMessage("PING :dropped")
	assert.Len(t, lc.WriteChan, 0)
}

func TestEncodeMessageStripsTrailingCRLF(t *testing.T) {
	line, err := encodeMessage(irc.Message{Command: "PING", Params: []string{"abc"}})
	assert.NoError(t, err)
	assert.Equal(t, "PING abc", line)
}
