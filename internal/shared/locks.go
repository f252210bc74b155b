package shared

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// BookingLockKey builds the critical-section key for a booking.
func BookingLockKey(bookingID int64) string {
	return fmt.Sprintf("booking:%d:lock", bookingID)
}

// ReceiptLockKey builds the critical-section key for an on-account receipt.
func ReceiptLockKey(receiptID uuid.UUID) string {
	return fmt.Sprintf("receipt:%s:lock", receiptID)
}

// VehiclePoolLockKey builds the critical-section key for an inventory pool.
// Candidate selection and the status transition run under it so concurrent
// bookings cannot grab the same unit.
func VehiclePoolLockKey(modelID, colorID int64) string {
	return fmt.Sprintf("vehiclepool:%d:%d:lock", modelID, colorID)
}

// KeyedLock serialises mutating operations per entity key. Booking and
// receipt balances are read-validate-write sequences with no database-side
// locking, so concurrent writers against the same key must queue here.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock constructs a KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
// Entries are reference counted so the map does not grow unbounded.
func (l *KeyedLock) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
