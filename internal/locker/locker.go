// Package locker provides the bounded-wait exclusive locks serializing slot
// reservations and per-appointment transitions. Callers that cannot acquire
// a lock within the wait bound get ErrBusy and are expected to retry with
// backoff; the engine never queues unboundedly.
package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrBusy = errors.New("lock busy")

const pollEvery = 25 * time.Millisecond

// Locker hands out exclusive leases. Acquire returns a release func on
// success; ttl bounds how long a crashed holder can wedge the key, wait
// bounds how long the caller blocks before ErrBusy.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
}

// SlotKey is the serialization key for reservations: one winner per
// (professional, start instant).
func SlotKey(professionalID string, start time.Time) string {
	return fmt.Sprintf("lock:slot:%s:%d", professionalID, start.UTC().Unix())
}

// AppointmentKey serializes state transitions on one appointment.
func AppointmentKey(appointmentID string) string {
	return "lock:appt:" + appointmentID
}

// Memory is a process-local Locker for tests and single-instance
// deployments.
type Memory struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]time.Time)}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		if m.tryAcquire(key, ttl) {
			return func() { m.release(key) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

func (m *Memory) tryAcquire(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.held[key]; ok && time.Now().Before(expiry) {
		return false
	}
	m.held[key] = time.Now().Add(ttl)
	return true
}

func (m *Memory) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
}
