package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vtopassist-backend/internal/components/chrono"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/vtop"

	"github.com/stretchr/testify/require"
)

type stubPortal struct {
	vtop.Portal
	name string
}

var start = time.Date(2024, time.July, 15, 9, 0, 0, 0, time.UTC)

func newTestStore(opts Options) (*Store, *chrono.ManualImpl, *telemetry.Recorder) {
	clock := chrono.NewManualImpl(start)
	tel := &telemetry.Recorder{}
	return NewStore(clock, tel, opts), clock, tel
}

func TestCreateAndGet(t *testing.T) {
	store, _, tel := newTestStore(Options{})

	portal := stubPortal{name: "a"}
	id := store.Create(portal)
	require.NotEmpty(t, id)
	require.Equal(t, 1, store.Len())

	session, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, id, session.ID)
	require.Equal(t, PendingChallenge, session.State)
	require.Equal(t, portal, session.Portal)
	require.Equal(t, start, session.CreatedAt)
	require.Empty(t, session.Username)

	other := store.Create(stubPortal{name: "b"})
	require.NotEqual(t, id, other)
	require.NotEmpty(t, tel.Find(telemetry.LevelCount, report_store_size))
}

func TestUnknownIds(t *testing.T) {
	store, _, _ := newTestStore(Options{})

	_, err := store.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Update("missing", func(*AuthSession) {}), ErrNotFound)
	_, err = store.Acquire("missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, store.Delete("missing"))
}

func TestUpdate(t *testing.T) {
	store, clock, _ := newTestStore(Options{})
	id := store.Create(stubPortal{})

	clock.Advance(time.Minute)
	err := store.Update(id, func(s *AuthSession) {
		s.ID = "hijacked"
		s.Token = "csrf-1"
		s.State = ChallengeReady
	})
	require.NoError(t, err)

	session, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, id, session.ID)
	require.Equal(t, "csrf-1", session.Token)
	require.Equal(t, ChallengeReady, session.State)
	require.Equal(t, start.Add(time.Minute), session.LastUsedAt)

	// copies do not write through
	session.Token = "changed"
	again, _ := store.Get(id)
	require.Equal(t, "csrf-1", again.Token)
}

func TestDeleteAndClear(t *testing.T) {
	store, _, _ := newTestStore(Options{})
	a := store.Create(stubPortal{})
	b := store.Create(stubPortal{})

	require.True(t, store.Delete(a))
	require.False(t, store.Delete(a))
	_, err := store.Get(a)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, store.Len())

	store.Clear()
	require.Zero(t, store.Len())
	_, err = store.Get(b)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLease(t *testing.T) {
	store, _, _ := newTestStore(Options{})
	id := store.Create(stubPortal{})

	lease, err := store.Acquire(id)
	require.NoError(t, err)
	require.Equal(t, id, lease.ID())

	_, err = store.Acquire(id)
	require.ErrorIs(t, err, ErrBusy)

	// readers are not blocked by a lease
	_, err = store.Get(id)
	require.NoError(t, err)

	require.NoError(t, lease.Commit(func(s *AuthSession) {
		s.State = Authenticated
		s.Username = "21BCE1001"
	}))
	require.Equal(t, Authenticated, lease.Session().State)

	lease.Release()
	lease.Release()

	second, err := store.Acquire(id)
	require.NoError(t, err)
	defer second.Release()
	require.Equal(t, "21BCE1001", second.Session().Username)
}

func TestLeaseOnDeletedSession(t *testing.T) {
	store, _, _ := newTestStore(Options{})
	id := store.Create(stubPortal{})

	lease, err := store.Acquire(id)
	require.NoError(t, err)
	require.True(t, store.Delete(id))

	require.ErrorIs(t, lease.Commit(func(s *AuthSession) { s.Token = "late" }), ErrNotFound)
	lease.Release()

	_, err = store.Get(id)
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, store.Len())
}

func TestLeaseDiscard(t *testing.T) {
	store, _, _ := newTestStore(Options{})
	id := store.Create(stubPortal{})

	lease, err := store.Acquire(id)
	require.NoError(t, err)
	lease.Discard()

	_, err = store.Acquire(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSweepEvictsIdlePendingSessions(t *testing.T) {
	store, clock, tel := newTestStore(Options{PendingTTL: 10 * time.Minute})

	pending := store.Create(stubPortal{})
	authenticated := store.Create(stubPortal{})
	require.NoError(t, store.Update(authenticated, func(s *AuthSession) { s.State = Authenticated }))
	leased := store.Create(stubPortal{})
	lease, err := store.Acquire(leased)
	require.NoError(t, err)
	defer lease.Release()

	clock.Advance(5 * time.Minute)
	store.Create(stubPortal{})
	require.Equal(t, 4, store.Len())

	clock.Advance(6 * time.Minute)
	store.Create(stubPortal{})

	_, err = store.Get(pending)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(authenticated)
	require.NoError(t, err)
	_, err = store.Get(leased)
	require.NoError(t, err)
	require.Equal(t, 4, store.Len())
	require.NotEmpty(t, tel.Find(telemetry.LevelDebug, report_store_sweep))
}

func TestSweepAuthenticatedTTL(t *testing.T) {
	store, clock, _ := newTestStore(Options{AuthenticatedTTL: time.Hour})

	id := store.Create(stubPortal{})
	require.NoError(t, store.Update(id, func(s *AuthSession) { s.State = Authenticated }))

	clock.Advance(30 * time.Minute)
	store.Create(stubPortal{})
	_, err := store.Get(id)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	store.Create(stubPortal{})
	_, err = store.Get(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentLeasesAreExclusive(t *testing.T) {
	store, _, _ := newTestStore(Options{})
	id := store.Create(stubPortal{})

	var holders, maxHolders, acquired int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				lease, err := store.Acquire(id)
				if err != nil {
					continue
				}
				n := atomic.AddInt64(&holders, 1)
				for {
					current := atomic.LoadInt64(&maxHolders)
					if n <= current || atomic.CompareAndSwapInt64(&maxHolders, current, n) {
						break
					}
				}
				atomic.AddInt64(&acquired, 1)
				_ = lease.Commit(func(s *AuthSession) { s.Token = s.Token + "x" })
				atomic.AddInt64(&holders, -1)
				lease.Release()
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, maxHolders)
	session, err := store.Get(id)
	require.NoError(t, err)
	require.Len(t, session.Token, int(acquired))
}

func TestConcurrentIndependentSessions(t *testing.T) {
	store, _, _ := newTestStore(Options{})

	var wg sync.WaitGroup
	ids := make([]string, 32)
	for i := range ids {
		ids[i] = store.Create(stubPortal{})
	}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := store.Update(id, func(s *AuthSession) { s.Token += "." }); err != nil {
					t.Error(err)
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		session, err := store.Get(id)
		require.NoError(t, err)
		require.Len(t, session.Token, 100)
	}
}
