package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/testutil"
	"chatline/pkg/interfaces"
)

func TestTracker_RegisterFirstConnectionComesOnline(t *testing.T) {
	tracker := NewTracker()
	conn := testutil.NewFakeConn("10.0.0.1:5000")

	assert.True(t, tracker.Register("alice", conn))
	assert.True(t, tracker.IsOnline("alice"))
	assert.Equal(t, []string{"alice"}, tracker.ListOnline())

	// idempotent
	assert.False(t, tracker.Register("alice", conn))
	assert.Len(t, tracker.ConnectionsFor("alice"), 1)
}

func TestTracker_SecondDeviceDoesNotComeOnlineAgain(t *testing.T) {
	tracker := NewTracker()
	phone := testutil.NewFakeConn("10.0.0.1:5000")
	laptop := testutil.NewFakeConn("10.0.0.2:5000")

	assert.True(t, tracker.Register("alice", phone))
	assert.False(t, tracker.Register("alice", laptop))
	assert.Len(t, tracker.ConnectionsFor("alice"), 2)

	username, wentOffline := tracker.Deregister(phone)
	assert.Equal(t, "alice", username)
	assert.False(t, wentOffline)
	assert.True(t, tracker.IsOnline("alice"))

	username, wentOffline = tracker.Deregister(laptop)
	assert.Equal(t, "alice", username)
	assert.True(t, wentOffline)
	assert.False(t, tracker.IsOnline("alice"))
	assert.Empty(t, tracker.ConnectionsFor("alice"))
	assert.Empty(t, tracker.ListOnline())
}

func TestTracker_DeregisterUnknown(t *testing.T) {
	tracker := NewTracker()

	username, wentOffline := tracker.Deregister(testutil.NewFakeConn("x:1"))
	assert.Empty(t, username)
	assert.False(t, wentOffline)

	username, wentOffline = tracker.Deregister(nil)
	assert.Empty(t, username)
	assert.False(t, wentOffline)
}

func TestTracker_RegisterRejectsEmpty(t *testing.T) {
	tracker := NewTracker()
	assert.False(t, tracker.Register("", testutil.NewFakeConn("x:1")))
	assert.False(t, tracker.Register("alice", nil))
	assert.Empty(t, tracker.ListOnline())
}

func TestTracker_ConnectionMovesToNewUsername(t *testing.T) {
	tracker := NewTracker()
	conn := testutil.NewFakeConn("x:1")

	require.True(t, tracker.Register("alice", conn))
	assert.True(t, tracker.Register("bob", conn))

	assert.False(t, tracker.IsOnline("alice"))
	assert.Equal(t, []string{"bob"}, tracker.ListOnline())

	username, ok := tracker.UsernameFor(conn)
	assert.True(t, ok)
	assert.Equal(t, "bob", username)
}

func TestTracker_ListOnlineSorted(t *testing.T) {
	tracker := NewTracker()
	for _, name := range []string{"carol", "alice", "bob"} {
		tracker.Register(name, testutil.NewFakeConn(name+":1"))
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, tracker.ListOnline())
}

func TestTracker_ConnectionsSnapshot(t *testing.T) {
	tracker := NewTracker()
	a1 := testutil.NewFakeConn("a:1")
	a2 := testutil.NewFakeConn("a:2")
	b1 := testutil.NewFakeConn("b:1")
	tracker.Register("alice", a1)
	tracker.Register("alice", a2)
	tracker.Register("bob", b1)

	all := tracker.Connections()
	assert.ElementsMatch(t, []string{a1.ID(), a2.ID(), b1.ID()}, ids(all))

	// snapshot is detached from later changes
	tracker.Deregister(b1)
	assert.Len(t, all, 3)
	assert.Len(t, tracker.Connections(), 2)

	assert.Equal(t, map[string]int{"online_users": 1, "active_connections": 2}, tracker.Stats())

	_, ok := tracker.OnlineSince("alice")
	assert.True(t, ok)
	_, ok = tracker.OnlineSince("bob")
	assert.False(t, ok)
}

// The online set and the connection map never disagree
func TestTracker_InvariantUnderConcurrency(t *testing.T) {
	tracker := NewTracker()
	users := []string{"alice", "bob", "carol"}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := testutil.NewFakeConn("c:1")
			name := users[i%len(users)]
			tracker.Register(name, conn)
			if i%2 == 0 {
				tracker.Deregister(conn)
			}
		}(i)
	}
	wg.Wait()

	for _, name := range users {
		assert.Equal(t, tracker.IsOnline(name), len(tracker.ConnectionsFor(name)) > 0, name)
	}
	stats := tracker.Stats()
	assert.Equal(t, 15, stats["active_connections"])
}

func ids(conns []interfaces.Connection) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}
