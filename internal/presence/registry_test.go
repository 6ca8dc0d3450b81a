package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPusher struct{}

func (nopPusher) Push(event string, payload any) {}

func TestRegisterFirstConnectionEdge(t *testing.T) {
	r := NewRegistry()

	first := r.Register("u1", "c1", nopPusher{})
	assert.True(t, first, "first connection must report the online edge")

	// second tab must not re-fire the edge
	first = r.Register("u1", "c2", nopPusher{})
	assert.False(t, first)

	assert.Len(t, r.ConnectionsFor("u1"), 2)
	assert.True(t, r.Online("u1"))
}

func TestUnregisterLastConnectionEdge(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1", nopPusher{})
	r.Register("u1", "c2", nopPusher{})

	last := r.Unregister("u1", "c1")
	assert.False(t, last, "one connection still live")

	last = r.Unregister("u1", "c2")
	assert.True(t, last, "set emptied, offline edge expected")

	assert.Empty(t, r.ConnectionsFor("u1"))
	assert.False(t, r.Online("u1"))
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister("ghost", "c1"))

	r.Register("u1", "c1", nopPusher{})
	assert.False(t, r.Unregister("u1", "nope"))
	assert.True(t, r.Online("u1"))
}

func TestConnectionsForUnknownUser(t *testing.T) {
	r := NewRegistry()
	conns := r.ConnectionsFor("nobody")
	require.NotNil(t, conns)
	assert.Empty(t, conns)
}

func TestCount(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1", nopPusher{})
	r.Register("u1", "c2", nopPusher{})
	r.Register("u2", "c3", nopPusher{})
	assert.Equal(t, 3, r.Count())
}

// Rapid connect/disconnect churn across goroutines must fire exactly one
// online edge per user and never lose a handle.
func TestConcurrentChurnFiresEdgesOnce(t *testing.T) {
	r := NewRegistry()
	const users = 8
	const connsPerUser = 16

	var mu sync.Mutex
	onlineEdges := map[string]int{}

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("u%d", u)
		for c := 0; c < connsPerUser; c++ {
			wg.Add(1)
			go func(connID string) {
				defer wg.Done()
				if r.Register(userID, connID, nopPusher{}) {
					mu.Lock()
					onlineEdges[userID]++
					mu.Unlock()
				}
			}(fmt.Sprintf("c%d", c))
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("u%d", u)
		assert.Equal(t, 1, onlineEdges[userID], "user %s", userID)
		assert.Len(t, r.ConnectionsFor(userID), connsPerUser)
	}

	// tear everything down; exactly one offline edge per user
	offlineEdges := map[string]int{}
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("u%d", u)
		for c := 0; c < connsPerUser; c++ {
			if r.Unregister(userID, fmt.Sprintf("c%d", c)) {
				offlineEdges[userID]++
			}
		}
		assert.Equal(t, 1, offlineEdges[userID])
	}
}
