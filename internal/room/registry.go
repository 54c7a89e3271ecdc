package room

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// IDLength is the number of characters in a room id
const IDLength = 6

// IDAlphabet holds every character RandomID can produce
const IDAlphabet = "0123456789ABCDEF"

// maxIDAttempts bounds regeneration on collision
const maxIDAttempts = 64

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrIDSpaceExhausted = errors.New("could not allocate a free room id")
)

// IDGenerator returns a candidate room id
type IDGenerator func() (string, error)

// Room is one shared watching session
type Room struct {
	ID         string
	Members    map[string]struct{} // connection ids
	CurrentURL string
}

// JoinResult tells the caller what a late joiner needs and who to notify
type JoinResult struct {
	RoomID     string
	CurrentURL string
	Peers      []string // members other than the joiner
	Left       *LeaveResult
}

// LeaveResult describes a membership removal
type LeaveResult struct {
	RoomID    string
	Remaining []string
	Deleted   bool
}

// Registry owns room lifecycle and membership. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	members map[string]string // connection id -> room id
	newID   IDGenerator
	log     *slog.Logger
}

type Option func(*Registry)

// WithIDGenerator swaps the random id source
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Registry) { r.newID = gen }
}

// NewRegistry returns an empty registry
func NewRegistry(log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		rooms:   map[string]*Room{},
		members: map[string]string{},
		newID:   RandomID,
		log:     log.With("component", "room_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RandomID draws 3 bytes from crypto/rand and hex encodes them upper-case
func RandomID() (string, error) {
	var b [IDLength / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("room id: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b[:])), nil
}

// Create allocates a fresh room with memberID as its only member.
// A member already in another room leaves it first; the result of that
// leave is returned so the caller can notify the old room.
func (r *Registry) Create(memberID string) (string, *LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return "", nil, ErrIDSpaceExhausted
		}
		candidate, err := r.newID()
		if err != nil {
			return "", nil, err
		}
		if _, taken := r.rooms[candidate]; !taken {
			id = candidate
			break
		}
		r.log.Debug("room.id_collision", "id", candidate)
	}

	left := r.leaveLocked(memberID)
	r.rooms[id] = &Room{ID: id, Members: map[string]struct{}{memberID: {}}}
	r.members[memberID] = id
	r.log.Info("room.created", "room", id, "member", memberID)
	return id, left, nil
}

// Join adds memberID to roomID. Unknown ids fail with ErrRoomNotFound and
// leave the registry untouched.
func (r *Registry) Join(roomID, memberID string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return JoinResult{}, fmt.Errorf("join %q: %w", roomID, ErrRoomNotFound)
	}

	res := JoinResult{RoomID: roomID}
	if current, in := r.members[memberID]; in && current != roomID {
		res.Left = r.leaveLocked(memberID)
	}

	rm.Members[memberID] = struct{}{}
	r.members[memberID] = roomID
	res.CurrentURL = rm.CurrentURL
	res.Peers = othersLocked(rm, memberID)
	r.log.Info("room.joined", "room", roomID, "member", memberID, "size", len(rm.Members))
	return res, nil
}

// Leave removes memberID from whatever room it is in.
// Returns false when the member was not in a room.
func (r *Registry) Leave(memberID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.leaveLocked(memberID)
	if res == nil {
		return LeaveResult{}, false
	}
	return *res, true
}

func (r *Registry) leaveLocked(memberID string) *LeaveResult {
	roomID, ok := r.members[memberID]
	if !ok {
		return nil
	}
	delete(r.members, memberID)

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(rm.Members, memberID)

	res := &LeaveResult{RoomID: roomID, Remaining: othersLocked(rm, memberID)}
	if len(rm.Members) == 0 {
		delete(r.rooms, roomID)
		res.Deleted = true
		r.log.Info("room.deleted", "room", roomID)
	} else {
		r.log.Info("room.left", "room", roomID, "member", memberID, "size", len(rm.Members))
	}
	return res
}

// SetCurrentURL records the shared navigation target for late joiners
func (r *Registry) SetCurrentURL(roomID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return fmt.Errorf("set url on %q: %w", roomID, ErrRoomNotFound)
	}
	rm.CurrentURL = url
	return nil
}

// Members lists the connection ids in roomID, sorted
func (r *Registry) Members(roomID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("members of %q: %w", roomID, ErrRoomNotFound)
	}
	return othersLocked(rm, ""), nil
}

// RoomOf returns the room memberID is tagged with
func (r *Registry) RoomOf(memberID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.members[memberID]
	return id, ok
}

func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Len is the number of live rooms
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Snapshot copies every live room
func (r *Registry) Snapshot() []Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		cp := Room{ID: rm.ID, CurrentURL: rm.CurrentURL, Members: make(map[string]struct{}, len(rm.Members))}
		for m := range rm.Members {
			cp.Members[m] = struct{}{}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// othersLocked returns the sorted members of rm except skip
func othersLocked(rm *Room, skip string) []string {
	out := make([]string, 0, len(rm.Members))
	for m := range rm.Members {
		if m != skip {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
