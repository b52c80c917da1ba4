package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailbox_SendReceive(t *testing.T) {
	m := New[int]()
	require.NoError(t, m.TrySend(42))

	v, ok := m.Receive()
	require.True(t, ok)
	require.Equal(t, 42, v)

	_, ok = m.Receive()
	require.False(t, ok)
}

func TestMailbox_FullWhenOccupied(t *testing.T) {
	m := New[int]()
	require.NoError(t, m.TrySend(1))
	require.ErrorIs(t, m.TrySend(2), ErrFull)

	v, ok := m.Receive()
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.NoError(t, m.TrySend(3))
}

func TestMailbox_BusyUnderContention(t *testing.T) {
	m := NewWithTimeout[int](200 * time.Microsecond)

	var wg sync.WaitGroup
	wg.Add(1)
	m.mu.Lock()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		m.mu.Unlock()
	}()

	err := m.TrySend(1)
	require.ErrorIs(t, err, ErrBusy)
	wg.Wait()
}

func TestMailbox_StatsTracksSendsAndDrops(t *testing.T) {
	m := New[int]()
	require.NoError(t, m.TrySend(1))
	require.ErrorIs(t, m.TrySend(2), ErrFull)
	require.ErrorIs(t, m.TrySend(3), ErrFull)

	stats := m.Stats()
	require.Equal(t, uint64(1), stats.Sends)
	require.Equal(t, uint64(2), stats.Drops)
}

func TestMailbox_BackpressureNeverBlocksProducer(t *testing.T) {
	// S5-style scenario: a slow consumer holding the slot must never make
	// the producer block; it only ever drops.
	m := New[int]()
	require.NoError(t, m.TrySend(0))

	start := time.Now()
	for i := 1; i <= 9; i++ {
		_ = m.TrySend(i)
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)

	stats := m.Stats()
	require.Equal(t, uint64(1), stats.Sends)
	require.Equal(t, uint64(9), stats.Drops)
}
