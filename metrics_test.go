package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSampleGaugesCountsLocalUsersOnly(t *testing.T) {
	cb := newTestCatbox()
	newTestLocalUser(cb, "alice")
	newTestRemoteUser(cb, "2ABAAAAAA", "bob", 1, "peer.example")
	ch := newChannel("#test", 1)
	assert.NoError(t, cb.insertChannel(ch))

	cb.sampleGauges()

	assert.Equal(t, float64(1), testutil.ToFloat64(cb.Metrics.localUsers))
	assert.Equal(t, float64(1), testutil.ToFloat64(cb.Metrics.localChannels))
}
