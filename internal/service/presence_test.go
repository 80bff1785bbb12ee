package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresenceMultiDevice(t *testing.T) {
	tracker := NewPresenceTracker()

	require.True(t, tracker.MarkOnline(1, "phone"))
	require.False(t, tracker.MarkOnline(1, "laptop"))
	require.True(t, tracker.IsOnline(1))
	require.Equal(t, 2, tracker.ConnectionsFor(1))

	// Dropping one device keeps the user online.
	require.False(t, tracker.MarkOffline(1, "phone"))
	require.True(t, tracker.IsOnline(1))

	// Only the last connection flips the user offline.
	require.True(t, tracker.MarkOffline(1, "laptop"))
	require.False(t, tracker.IsOnline(1))
	require.Zero(t, tracker.ConnectionsFor(1))
}

func TestPresenceMarkOfflineUnknownConnection(t *testing.T) {
	tracker := NewPresenceTracker()

	require.False(t, tracker.MarkOffline(1, "ghost"))
	require.False(t, tracker.IsOnline(1))
}

func TestPresenceOnlineSetSnapshot(t *testing.T) {
	tracker := NewPresenceTracker()
	tracker.MarkOnline(1, "a")
	tracker.MarkOnline(2, "b")

	online := tracker.OnlineSet()
	require.Len(t, online, 2)
	require.Contains(t, online, uint(1))
	require.Contains(t, online, uint(2))

	// The snapshot is detached from tracker state.
	tracker.MarkOffline(2, "b")
	require.Contains(t, online, uint(2))
	require.NotContains(t, tracker.OnlineSet(), uint(2))
}
