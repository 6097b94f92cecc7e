package session

import (
	"sync"
	"time"

	"vtopassist-backend/internal/components/assert"
	"vtopassist-backend/internal/components/chrono"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/vtop"

	"github.com/google/uuid"
)

const (
	report_store_sweep = "store.sweep"
	report_store_size  = "store.size"

	DefaultPendingTTL = 15 * time.Minute
)

type Options struct {
	// PendingTTL is how long a session that never authenticated survives
	// without being used.
	PendingTTL time.Duration
	// AuthenticatedTTL does the same for authenticated sessions, zero keeps
	// them until logout.
	AuthenticatedTTL time.Duration
}

type entry struct {
	mutex   sync.Mutex
	session AuthSession
	leased  bool
	removed bool
}

// Store is safe for concurrent use. The map lock is only held to find, insert
// or remove entries, each entry has its own lock so unrelated sessions never
// wait on each other.
type Store struct {
	clock chrono.API
	tel   telemetry.API
	opts  Options

	mutex   sync.RWMutex
	entries map[string]*entry
}

func NewStore(clock chrono.API, tel telemetry.API, opts Options) *Store {
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")

	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}

	return &Store{
		clock:   clock,
		tel:     telemetry.NewScopedAPI("session", tel),
		opts:    opts,
		entries: map[string]*entry{},
	}
}

// Create registers a new PENDING_CHALLENGE session owning the given portal and
// returns its id. Idle sessions are swept out on the way.
func (s *Store) Create(portal vtop.Portal) string {
	assert.NotNil(portal, "portal")

	now := s.clock.Now()
	id := uuid.NewString()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sweep(now)
	s.entries[id] = &entry{session: AuthSession{
		ID:         id,
		Portal:     portal,
		State:      PendingChallenge,
		CreatedAt:  now,
		LastUsedAt: now,
	}}
	s.tel.ReportCount(report_store_size, int64(len(s.entries)))
	return id
}

// sweep must be called with the map lock held.
func (s *Store) sweep(now time.Time) {
	evicted := 0
	for id, e := range s.entries {
		e.mutex.Lock()
		if !e.leased && s.expired(e.session, now) {
			e.removed = true
			delete(s.entries, id)
			evicted++
		}
		e.mutex.Unlock()
	}
	if evicted > 0 {
		s.tel.ReportDebug(report_store_sweep, evicted)
	}
}

func (s *Store) expired(session AuthSession, now time.Time) bool {
	idle := now.Sub(session.LastUsedAt)
	if session.State == Authenticated {
		return s.opts.AuthenticatedTTL > 0 && idle > s.opts.AuthenticatedTTL
	}
	return idle > s.opts.PendingTTL
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Get returns a copy of the session. Mutating the copy has no effect on the
// store.
func (s *Store) Get(id string) (AuthSession, error) {
	e, ok := s.lookup(id)
	if !ok {
		return AuthSession{}, ErrNotFound
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.removed {
		return AuthSession{}, ErrNotFound
	}
	return e.session, nil
}

// Update applies the mutator atomically with respect to every other access to
// the same session.
func (s *Store) Update(id string, mutator func(*AuthSession)) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	return s.apply(e, mutator)
}

func (s *Store) apply(e *entry, mutator func(*AuthSession)) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.removed {
		return ErrNotFound
	}
	id := e.session.ID
	mutator(&e.session)
	e.session.ID = id
	e.session.LastUsedAt = s.clock.Now()
	return nil
}

// Delete removes the session, it reports whether there was one.
func (s *Store) Delete(id string) bool {
	s.mutex.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	size := len(s.entries)
	s.mutex.Unlock()

	if !ok {
		return false
	}
	e.mutex.Lock()
	e.removed = true
	e.mutex.Unlock()

	s.tel.ReportCount(report_store_size, int64(size))
	return true
}

func (s *Store) Clear() {
	s.mutex.Lock()
	entries := s.entries
	s.entries = map[string]*entry{}
	s.mutex.Unlock()

	for _, e := range entries {
		e.mutex.Lock()
		e.removed = true
		e.mutex.Unlock()
	}
	s.tel.ReportCount(report_store_size, 0)
}

func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

// Acquire claims the session for one request. It never blocks: a session
// already claimed by another request yields ErrBusy.
func (s *Store) Acquire(id string) (*Lease, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	if e.leased {
		return nil, ErrBusy
	}
	e.leased = true
	e.session.LastUsedAt = s.clock.Now()

	return &Lease{store: s, entry: e, id: id}, nil
}

// Lease is an exclusive claim on one session. It holds no lock itself, so the
// holder may perform slow portal calls between Session and Commit.
type Lease struct {
	store *Store
	entry *entry
	id    string

	once sync.Once
}

func (l *Lease) ID() string {
	return l.id
}

// Session returns a copy of the session as currently stored.
func (l *Lease) Session() AuthSession {
	l.entry.mutex.Lock()
	defer l.entry.mutex.Unlock()
	return l.entry.session
}

// Commit writes the mutator's changes. It fails with ErrNotFound when the
// session was deleted while leased.
func (l *Lease) Commit(mutator func(*AuthSession)) error {
	return l.store.apply(l.entry, mutator)
}

// Release gives the claim back, it is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.entry.mutex.Lock()
		l.entry.leased = false
		l.entry.mutex.Unlock()
	})
}

// Discard deletes the session and releases the claim.
func (l *Lease) Discard() {
	l.store.Delete(l.id)
	l.Release()
}
