// Package realtimetest provides recording doubles for the realtime hub.
package realtimetest

import (
	"sync"

	"foodhub/internal/realtime"
	"foodhub/internal/types"
)

type Emission struct {
	Room  realtime.Room
	Event string
	Data  any
}

// Recorder implements realtime.Broadcaster and keeps every emission.
type Recorder struct {
	mu    sync.Mutex
	items []Emission
}

func (r *Recorder) EmitToRoom(room realtime.Room, event string, data any) {
	r.mu.Lock()
	r.items = append(r.items, Emission{Room: room, Event: event, Data: data})
	r.mu.Unlock()
}

func (r *Recorder) All() []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emission, len(r.items))
	copy(out, r.items)
	return out
}

// Find returns emissions matching event, optionally restricted to room.
func (r *Recorder) Find(event string, room *realtime.Room) []Emission {
	var out []Emission
	for _, e := range r.All() {
		if e.Event != event {
			continue
		}
		if room != nil && e.Room != *room {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Session is an in-memory realtime.Session.
type Session struct {
	User types.Actor

	mu      sync.Mutex
	rooms   map[realtime.Room]bool
	emitted []Emission
}

func NewSession(id types.ID, role types.Role) *Session {
	return &Session{User: types.Actor{ID: id, Role: role}, rooms: map[realtime.Room]bool{}}
}

func (s *Session) Actor() types.Actor { return s.User }

func (s *Session) Join(room realtime.Room) {
	s.mu.Lock()
	s.rooms[room] = true
	s.mu.Unlock()
}

func (s *Session) Leave(room realtime.Room) {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

func (s *Session) Emit(event string, data any) {
	s.mu.Lock()
	s.emitted = append(s.emitted, Emission{Event: event, Data: data})
	s.mu.Unlock()
}

func (s *Session) InRoom(room realtime.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[room]
}

func (s *Session) Emitted() []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Emission, len(s.emitted))
	copy(out, s.emitted)
	return out
}

// LastError returns the most recent error payload emitted to the session.
func (s *Session) LastError() (realtime.ErrorPayload, bool) {
	items := s.Emitted()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Event == realtime.EventError {
			p, ok := items[i].Data.(realtime.ErrorPayload)
			return p, ok
		}
	}
	return realtime.ErrorPayload{}, false
}
