// Package presence tracks which connections are joined to which rooms.
package presence

import (
	"sort"
	"sync"
)

// CountListener receives the room size after every join or leave.
type CountListener func(room string, count int)

// RoomCount is one room's size after a mutation.
type RoomCount struct {
	Room  string
	Count int
}

// Registry maps rooms to connection sets. Empty sets are kept so a zero
// count can still be reported until Drop is called.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]map[string]struct{}
	byConn   map[string]map[string]struct{}
	listener CountListener

	// notifyMu keeps listener calls in mutation order.
	notifyMu sync.Mutex
}

func NewRegistry(listener CountListener) *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]struct{}),
		byConn:   make(map[string]map[string]struct{}),
		listener: listener,
	}
}

// Join adds conn to room and returns the new count. Joining twice is a no-op
// but still reports the count.
func (r *Registry) Join(room, conn string) int {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[conn] = struct{}{}

	joined, ok := r.byConn[conn]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[conn] = joined
	}
	joined[room] = struct{}{}
	count := len(members)
	r.mu.Unlock()

	r.emit(room, count)
	return count
}

// Leave removes conn from room and returns the new count. Leaving a room
// that was dropped, or never joined, reports nothing.
func (r *Registry) Leave(room, conn string) int {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if _, ok := r.rooms[room]; !ok {
		r.mu.Unlock()
		return 0
	}
	count := r.leaveLocked(room, conn)
	r.mu.Unlock()

	r.emit(room, count)
	return count
}

func (r *Registry) leaveLocked(room, conn string) int {
	members, ok := r.rooms[room]
	if !ok {
		return 0
	}
	delete(members, conn)

	if joined, ok := r.byConn[conn]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, conn)
		}
	}
	return len(members)
}

// LeaveAll removes conn from every room it joined. Used on disconnect.
func (r *Registry) LeaveAll(conn string) []RoomCount {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	joined := r.byConn[conn]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	counts := make([]RoomCount, 0, len(rooms))
	for _, room := range rooms {
		counts = append(counts, RoomCount{Room: room, Count: r.leaveLocked(room, conn)})
	}
	r.mu.Unlock()

	for _, rc := range counts {
		r.emit(rc.Room, rc.Count)
	}
	return counts
}

// Count returns the number of connections in room.
func (r *Registry) Count(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// Members returns the connections in room, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]string, 0, len(r.rooms[room]))
	for conn := range r.rooms[room] {
		members = append(members, conn)
	}
	sort.Strings(members)
	return members
}

// RoomsOf returns the rooms conn has joined, sorted.
func (r *Registry) RoomsOf(conn string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(r.byConn[conn]))
	for room := range r.byConn[conn] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Drop forgets a room entirely. Members are not notified.
func (r *Registry) Drop(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.rooms[room] {
		if joined, ok := r.byConn[conn]; ok {
			delete(joined, room)
			if len(joined) == 0 {
				delete(r.byConn, conn)
			}
		}
	}
	delete(r.rooms, room)
}

func (r *Registry) emit(room string, count int) {
	if r.listener != nil {
		r.listener(room, count)
	}
}
