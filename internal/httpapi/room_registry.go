package httpapi

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hireloop/voiceroom/internal/room"
)

// RoomRegistry tracks active interview rooms and supports graceful
// draining. When draining is enabled, new rooms are rejected while
// in-flight interviews finish naturally.
//
// The mu mutex makes the draining check and wg.Add atomic in Add(),
// preventing a TOCTOU race where StartDraining+Wait could be called
// between the draining check and wg.Add.
type RoomRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
	rooms    map[string]*roomEntry
}

type roomEntry struct {
	ctrl    *room.Controller
	unwatch func()
}

// NewRoomRegistry creates a new RoomRegistry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: map[string]*roomEntry{}}
}

// Add registers a new room under id. Returns false if the registry is
// draining or the id is already taken; exactly one live controller
// exists per room id. The draining check and WaitGroup increment are
// performed atomically under the mutex.
func (rr *RoomRegistry) Add(id string, ctrl *room.Controller) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.draining {
		return false
	}
	if _, exists := rr.rooms[id]; exists {
		return false
	}
	rr.rooms[id] = &roomEntry{ctrl: ctrl, unwatch: ctrl.Watch()}
	rr.wg.Add(1)
	rr.count.Add(1)
	return true
}

// Get returns the controller for a room id.
func (rr *RoomRegistry) Get(id string) (*room.Controller, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	entry, ok := rr.rooms[id]
	if !ok {
		return nil, false
	}
	return entry.ctrl, true
}

// Remove tears the room down and releases its drain slot. Must be
// called exactly once per successful Add; later calls no-op.
func (rr *RoomRegistry) Remove(id string) {
	rr.mu.Lock()
	entry, ok := rr.rooms[id]
	if ok {
		delete(rr.rooms, id)
	}
	rr.mu.Unlock()
	if !ok {
		return
	}
	entry.unwatch()
	entry.ctrl.Coordinator().Close()
	rr.count.Add(-1)
	rr.wg.Done()
}

// RemoveAfter removes the room once d has elapsed. Used by the stop
// handler: the final state stays readable for clients that retry the
// stop or poll right after it. Safe to schedule more than once.
func (rr *RoomRegistry) RemoveAfter(id string, d time.Duration) {
	go func() {
		time.Sleep(d)
		rr.Remove(id)
	}()
}

// StartDraining sets the draining flag so that future Add calls return
// false. This is safe to call concurrently with Add — the mutex
// ensures no Add can slip through after StartDraining returns.
func (rr *RoomRegistry) StartDraining() {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (rr *RoomRegistry) IsDraining() bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.draining
}

// ActiveCount returns the number of currently active rooms.
func (rr *RoomRegistry) ActiveCount() int64 {
	return rr.count.Load()
}

// Wait blocks until all active rooms have been removed.
func (rr *RoomRegistry) Wait() {
	rr.wg.Wait()
}

// CloseAll force-removes every room, for shutdown paths where the
// drain timed out.
func (rr *RoomRegistry) CloseAll() {
	rr.mu.Lock()
	ids := make([]string, 0, len(rr.rooms))
	for id := range rr.rooms {
		ids = append(ids, id)
	}
	rr.mu.Unlock()
	for _, id := range ids {
		rr.Remove(id)
	}
}
