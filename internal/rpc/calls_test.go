package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallTableAcquireSkipsInFlightIDs(t *testing.T) {
	table := newCallTable()

	id1, _ := table.acquire()
	id2, _ := table.acquire()
	id3, _ := table.acquire()

	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, id2, id3)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, 3, table.inFlight())
}

func TestCallTableReleaseAllowsReuse(t *testing.T) {
	table := newCallTable()

	id, _ := table.acquire()
	table.release(id)

	reused, _ := table.acquire()
	assert.Equal(t, id, reused)
}

func TestCallTableDeliver(t *testing.T) {
	table := newCallTable()

	id, reply := table.acquire()

	msg := map[string]any{"id": float64(id), "result": true}
	require.True(t, table.deliver(id, msg))

	select {
	case got := <-reply:
		assert.Equal(t, msg, got)
	default:
		t.Fatal("reply was not delivered to the waiter")
	}

	// The id is no longer outstanding; a second delivery is unmatched.
	assert.False(t, table.deliver(id, msg))
	assert.Zero(t, table.inFlight())
}

func TestCallTableDeliverUnknownID(t *testing.T) {
	table := newCallTable()

	assert.False(t, table.deliver(42, map[string]any{}))
}

func TestCallTableWraparound(t *testing.T) {
	table := newCallTable()
	table.next = ^uint32(0) // one before wraparound

	idMax, _ := table.acquire()
	idZero, _ := table.acquire()

	assert.Equal(t, ^uint32(0), idMax)
	assert.Equal(t, uint32(0), idZero)
}
