package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/termdeck/backend/internal/shared/id"
	"github.com/termdeck/backend/internal/shared/types"
)

const (
	// MaxSessions is the default bound on concurrently open sessions
	MaxSessions = 10

	// StaggerOffset is applied to new/duplicated session positions so
	// windows do not stack exactly on top of each other
	StaggerOffset = 50
)

var (
	ErrSessionLimit = errors.New("session limit reached")
	ErrNameTaken    = errors.New("session name already in use")
	ErrNotFound     = errors.New("session not found")
)

// DefaultPosition is the position of the first session when none is supplied
var DefaultPosition = types.Position{X: 100, Y: 100}

// DefaultSize is the geometry new sessions start with
var DefaultSize = types.Size{Width: 720, Height: 420}

var defaultNamePattern = regexp.MustCompile(`^Session (\d+)$`)

// Registry is the single authority over the session collection. Every
// lifecycle mutation goes through it, and its invariants hold after each
// operation: at most Capacity open sessions (MaxSessions unless
// overridden), at most one active session,
// unique names, unique stack orders with the active session on top, and a
// never-empty collection once bootstrapped (closing the last session
// synthesizes a fresh default).
//
// The registry is deterministic and free of I/O: transport creation and
// teardown are the caller's effects, driven by the returned results. It is
// not safe for concurrent use; the console service serializes access.
type Registry struct {
	sessions map[string]*types.Session
	order    []string // session IDs, oldest first
	activeID *string

	capacity     int
	nextOrdinal  int
	stackCounter int

	now   func() time.Time
	newID func() string
}

// CloseResult reports what a Close or CloseAll changed. Closed sessions
// need their transports torn down; a non-nil Replacement needs a fresh one.
type CloseResult struct {
	Closed      []*types.Session
	Replacement *types.Session
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		sessions:    make(map[string]*types.Session),
		capacity:    MaxSessions,
		nextOrdinal: 1,
		now:         time.Now,
		newID:       func() string { return id.NewSessionID().String() },
	}
}

// WithCapacity overrides the session limit; non-positive values keep the
// default
func (r *Registry) WithCapacity(n int) *Registry {
	if n > 0 {
		r.capacity = n
	}
	return r
}

// Capacity returns the configured session limit
func (r *Registry) Capacity() int {
	return r.capacity
}

// WithClock overrides the time source (for deterministic tests)
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// WithIDGenerator overrides session ID generation (for deterministic tests)
func (r *Registry) WithIDGenerator(gen func() string) *Registry {
	r.newID = gen
	return r
}

// Create opens a new session and focuses it. An empty name picks the next
// default "Session N" name; the ordinal is consumed permanently, never
// reused after closes. A nil position staggers off the most recently
// created session, or falls back to DefaultPosition when none exists.
// Returns ErrSessionLimit at capacity and ErrNameTaken on a name collision;
// neither modifies state.
func (r *Registry) Create(name string, pos *types.Position) (*types.Session, error) {
	if len(r.sessions) >= r.capacity {
		return nil, ErrSessionLimit
	}

	if name == "" {
		name = r.claimDefaultName()
	} else if r.nameTaken(name, "") {
		return nil, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}

	position := r.staggeredPosition()
	if pos != nil {
		position = *pos
	}

	now := r.now()
	s := &types.Session{
		ID:             r.newID(),
		Name:           name,
		Position:       position,
		Size:           DefaultSize,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	r.activate(s)

	return copyOf(s), nil
}

// Close removes a session. If it was active, the oldest non-minimized
// survivor takes focus; if every survivor is minimized, the oldest one is
// un-minimized and focused. Closing the last session synthesizes one fresh
// default session so the registry is never left empty.
func (r *Registry) Close(sessionID string) (*CloseResult, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	wasActive := s.IsActive
	r.remove(sessionID)

	result := &CloseResult{Closed: []*types.Session{copyOf(s)}}

	if len(r.sessions) == 0 {
		replacement, _ := r.Create("", nil)
		result.Replacement = replacement
		return result, nil
	}

	if wasActive {
		r.reelect()
	}

	return result, nil
}

// Rename updates a session's name in place. Colliding with another open
// session's name is rejected with ErrNameTaken and the original name kept.
func (r *Registry) Rename(sessionID, name string) (*types.Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if r.nameTaken(name, sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}

	s.Name = name
	return copyOf(s), nil
}

// Minimize hides a session. If it was active, focus moves to the oldest
// remaining non-minimized session; with no visible session left, no session
// is focused, which is a valid state distinct from an empty registry.
func (r *Registry) Minimize(sessionID string) (*types.Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	wasActive := s.IsActive
	s.IsMinimized = true
	s.IsActive = false

	if wasActive {
		r.activeID = nil
		for _, oid := range r.order {
			if other := r.sessions[oid]; !other.IsMinimized {
				r.activate(other)
				break
			}
		}
	}

	return copyOf(s), nil
}

// Focus restores a session if minimized and brings it to the front,
// deactivating every other session.
func (r *Registry) Focus(sessionID string) (*types.Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	s.IsMinimized = false
	r.activate(s)

	return copyOf(s), nil
}

// DeactivateAll removes focus from every session without minimizing
// anything; used when focus moves outside all session windows.
func (r *Registry) DeactivateAll() {
	for _, s := range r.sessions {
		s.IsActive = false
	}
	r.activeID = nil
}

// Move updates a session's position
func (r *Registry) Move(sessionID string, pos types.Position) (*types.Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	s.Position = pos
	s.LastActivityAt = r.now()
	return copyOf(s), nil
}

// Resize updates a session's dimensions
func (r *Registry) Resize(sessionID string, size types.Size) (*types.Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	s.Size = size
	s.LastActivityAt = r.now()
	return copyOf(s), nil
}

// Duplicate opens a new session copying the source's geometry (staggered)
// and name with a " (Copy)" suffix. The duplicate always gets a brand-new
// transport and never inherits the source's remote session identity.
// Fails with ErrSessionLimit at capacity, like Create.
func (r *Registry) Duplicate(sessionID string) (*types.Session, error) {
	src, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if len(r.sessions) >= r.capacity {
		return nil, ErrSessionLimit
	}

	now := r.now()
	s := &types.Session{
		ID:   r.newID(),
		Name: r.copyName(src.Name),
		Position: types.Position{
			X: src.Position.X + StaggerOffset,
			Y: src.Position.Y + StaggerOffset,
		},
		Size:           src.Size,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	r.activate(s)

	return copyOf(s), nil
}

// Reset marks a session's transport as discarded: the remote session
// identity is cleared and the reset counter incremented. Name, geometry and
// visibility flags are untouched. The caller swaps the actual transport.
func (r *Registry) Reset(sessionID string) (*types.Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	s.RemoteSessionID = nil
	s.ResetCount++
	return copyOf(s), nil
}

// CloseAll removes every session, restarts default naming, and synthesizes
// exactly one fresh default session.
func (r *Registry) CloseAll() *CloseResult {
	result := &CloseResult{}
	for _, oid := range r.order {
		result.Closed = append(result.Closed, copyOf(r.sessions[oid]))
	}

	r.sessions = make(map[string]*types.Session)
	r.order = nil
	r.activeID = nil
	r.nextOrdinal = 1

	replacement, _ := r.Create("", nil)
	result.Replacement = replacement
	return result
}

// SetRemoteSessionID records the identity the remote endpoint assigned
// during a handshake. An empty value clears it.
func (r *Registry) SetRemoteSessionID(sessionID, remote string) error {
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if remote == "" {
		s.RemoteSessionID = nil
	} else {
		s.RemoteSessionID = &remote
	}
	return nil
}

// Load seeds the registry from persisted descriptors, in stored order. The
// first session takes focus (and is un-minimized if stored minimized, since
// an active session is never minimized). The default-name ordinal resumes
// past the highest "Session N" seen.
func (r *Registry) Load(records []types.Session) {
	r.sessions = make(map[string]*types.Session, len(records))
	r.order = make([]string, 0, len(records))
	r.activeID = nil
	r.nextOrdinal = 1

	for i := range records {
		rec := records[i]
		s := &types.Session{
			ID:             rec.ID,
			Name:           rec.Name,
			Position:       rec.Position,
			Size:           rec.Size,
			IsMinimized:    rec.IsMinimized,
			CreatedAt:      rec.CreatedAt,
			LastActivityAt: rec.CreatedAt,
		}
		if s.Size == (types.Size{}) {
			s.Size = DefaultSize
		}
		r.sessions[s.ID] = s
		r.order = append(r.order, s.ID)
		r.stackCounter++
		s.StackOrder = r.stackCounter

		if m := defaultNamePattern.FindStringSubmatch(s.Name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= r.nextOrdinal {
				r.nextOrdinal = n + 1
			}
		}
	}

	if len(r.order) > 0 {
		first := r.sessions[r.order[0]]
		first.IsMinimized = false
		r.activate(first)
	}
}

// Get returns a copy of a session by ID
func (r *Registry) Get(sessionID string) (*types.Session, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return copyOf(s), true
}

// List returns copies of all sessions in creation order
func (r *Registry) List() []*types.Session {
	out := make([]*types.Session, 0, len(r.sessions))
	for _, oid := range r.order {
		out = append(out, copyOf(r.sessions[oid]))
	}
	return out
}

// Active returns a copy of the focused session, if any
func (r *Registry) Active() (*types.Session, bool) {
	if r.activeID == nil {
		return nil, false
	}
	return r.Get(*r.activeID)
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Stats returns registry statistics
func (r *Registry) Stats() types.Stats {
	var minimized int
	for _, s := range r.sessions {
		if s.IsMinimized {
			minimized++
		}
	}

	var activeID *string
	if r.activeID != nil {
		aid := *r.activeID
		activeID = &aid
	}

	return types.Stats{
		TotalSessions:     len(r.sessions),
		MinimizedSessions: minimized,
		ActiveSessionID:   activeID,
		NextOrdinal:       r.nextOrdinal,
	}
}

// activate focuses s: every other session loses focus, s gets the top
// stack order. Callers ensure s is not minimized.
func (r *Registry) activate(s *types.Session) {
	for _, other := range r.sessions {
		other.IsActive = false
	}
	s.IsActive = true
	r.stackCounter++
	s.StackOrder = r.stackCounter
	s.LastActivityAt = r.now()
	sid := s.ID
	r.activeID = &sid
}

// reelect picks a replacement for a closed active session: oldest
// non-minimized survivor first, otherwise the oldest survivor un-minimized.
func (r *Registry) reelect() {
	r.activeID = nil

	for _, oid := range r.order {
		if s := r.sessions[oid]; !s.IsMinimized {
			r.activate(s)
			return
		}
	}
	if len(r.order) > 0 {
		s := r.sessions[r.order[0]]
		s.IsMinimized = false
		r.activate(s)
	}
}

func (r *Registry) remove(sessionID string) {
	delete(r.sessions, sessionID)
	for i, oid := range r.order {
		if oid == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeID != nil && *r.activeID == sessionID {
		r.activeID = nil
	}
}

// claimDefaultName consumes ordinals until one yields a free name. The
// counter only moves forward, so default names are never reused even after
// the sessions that held them close.
func (r *Registry) claimDefaultName() string {
	for {
		name := fmt.Sprintf("Session %d", r.nextOrdinal)
		r.nextOrdinal++
		if !r.nameTaken(name, "") {
			return name
		}
	}
}

// copyName derives a free name for a duplicate
func (r *Registry) copyName(base string) string {
	name := base + " (Copy)"
	for n := 2; r.nameTaken(name, ""); n++ {
		name = fmt.Sprintf("%s (Copy %d)", base, n)
	}
	return name
}

func (r *Registry) nameTaken(name, excludeID string) bool {
	for _, s := range r.sessions {
		if s.ID != excludeID && s.Name == name {
			return true
		}
	}
	return false
}

func (r *Registry) staggeredPosition() types.Position {
	if len(r.order) == 0 {
		return DefaultPosition
	}
	last := r.sessions[r.order[len(r.order)-1]]
	return types.Position{
		X: last.Position.X + StaggerOffset,
		Y: last.Position.Y + StaggerOffset,
	}
}

func copyOf(s *types.Session) *types.Session {
	c := *s
	if s.RemoteSessionID != nil {
		rid := *s.RemoteSessionID
		c.RemoteSessionID = &rid
	}
	return &c
}
