package shared

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestKeyedLockSerialisesSameKey(t *testing.T) {
	l := NewKeyedLock()
	key := BookingLockKey(1)

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(key)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	l := NewKeyedLock()

	unlockA := l.Lock(BookingLockKey(1))
	// A different key must not block.
	done := make(chan struct{})
	go func() {
		unlock := l.Lock(BookingLockKey(2))
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}

func TestKeyedLockReleasesEntries(t *testing.T) {
	l := NewKeyedLock()

	unlock := l.Lock(ReceiptLockKey(uuid.New()))
	require.Len(t, l.locks, 1)
	unlock()
	require.Empty(t, l.locks)
}
