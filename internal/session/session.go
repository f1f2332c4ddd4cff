// Package session keeps per-user conversation state in process memory. It is
// the only owner of transient state: nothing here is ever persisted.
package session

import (
	"sync"
	"time"

	"house-concierge-bot/internal/models"
)

// MailingDraft is a pending admin broadcast awaiting confirmation.
type MailingDraft struct {
	Text         string
	PhotoFileID  string
	ConfirmMsgID int
}

// Session is the transient state for one user: the guest-side menu location
// and the admin-side pending targets. Zero value means "fresh user".
type Session struct {
	State models.State

	// Admin pending targets. The admin's next message is interpreted
	// against whichever of these is set.
	ReplyTarget int64  // forward next message to this user id
	EditPath    string // overwrite this content file with next text
	PhotoPath   string // attach next photo to this content path
	Mailing     *MailingDraft
}

// ClearPending drops all pending admin targets, keeping the menu state.
func (s *Session) ClearPending() {
	s.ReplyTarget = 0
	s.EditPath = ""
	s.PhotoPath = ""
	s.Mailing = nil
}

type entry struct {
	mu       sync.Mutex // guards sess
	dispatch sync.Mutex // serializes handler runs for this user
	sess     Session
	lastSeen time.Time
}

// Store maps user ids to sessions. Entries idle longer than the TTL are
// dropped by Evict, which the scheduler runs periodically.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[int64]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (st *Store) get(userID int64) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[userID]
	if !ok {
		e = &entry{}
		st.entries[userID] = e
	}
	e.lastSeen = st.now()
	return e
}

// Get returns a copy of the user's session.
func (st *Store) Get(userID int64) Session {
	e := st.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// Update applies fn to the user's session under its lock, so concurrent
// events for the same user cannot interleave a read-modify-write.
func (st *Store) Update(userID int64, fn func(*Session)) {
	e := st.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.sess)
}

// Clear resets the user's session to the zero value.
func (st *Store) Clear(userID int64) {
	st.Update(userID, func(s *Session) { *s = Session{} })
}

// UserLock returns the mutex serializing event handling for one user. The
// dispatch loop holds it for the duration of a handler invocation. It is
// distinct from the entry's data lock, so Get/Update/Clear stay usable from
// inside a handler that runs under it.
func (st *Store) UserLock(userID int64) *sync.Mutex {
	return &st.get(userID).dispatch
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// Evict drops sessions idle longer than the TTL and returns how many were
// removed.
func (st *Store) Evict() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := st.now().Add(-st.ttl)
	n := 0
	for id, e := range st.entries {
		if !e.lastSeen.Before(cutoff) {
			continue
		}
		// a handler is still running for this user; dropping the entry
		// now would hand the next event a fresh mutex and let two
		// handlers for the same user run concurrently
		if !e.dispatch.TryLock() {
			continue
		}
		e.dispatch.Unlock()
		delete(st.entries, id)
		n++
	}
	return n
}
