package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/model"
)

// MemoryStore keeps sessions in a bounded go-cache. Items outlive their
// expiry by the retention window so callers can tell expired from unknown.
type MemoryStore struct {
	cache      *cache.Cache
	mu         sync.Mutex
	ttl        time.Duration
	retention  time.Duration
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(ttl, retention time.Duration, maxEntries int) *MemoryStore {
	return &MemoryStore{
		// Expiry is driven per item; Sweep does the cleanup.
		cache:      cache.New(cache.NoExpiration, 0),
		ttl:        ttl,
		retention:  retention,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, params CreateParams) (*model.CredentialSession, error) {
	now := m.now()
	s, err := newSession(params, m.ttl, now)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxEntries > 0 && m.cache.ItemCount() >= m.maxEntries {
		removed := m.sweepLocked(now)
		if m.cache.ItemCount() >= m.maxEntries {
			log.Warn().
				Int("maxEntries", m.maxEntries).
				Int64("swept", removed).
				Msg("session store at capacity")
			return nil, ErrCapacity
		}
	}

	if err := m.cache.Add(s.ID, s, m.ttl+m.retention); err != nil {
		return nil, ErrExists
	}
	return clone(s), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*model.CredentialSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	markExpired(s, m.now())
	return clone(s), nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string, outcome Outcome) (*model.CredentialSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}

	now := m.now()
	markExpired(s, now)
	if err := applyOutcome(s, outcome, now); err != nil {
		return clone(s), err
	}
	return clone(s), nil
}

func (m *MemoryStore) Sweep(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now()), nil
}

func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}

func (m *MemoryStore) sweepLocked(now time.Time) int64 {
	before := m.cache.ItemCount()
	for id, item := range m.cache.Items() {
		s, ok := item.Object.(*model.CredentialSession)
		if !ok || s.Expired(now) {
			m.cache.Delete(id)
		}
	}
	m.cache.DeleteExpired()
	return int64(before - m.cache.ItemCount())
}

// lookup returns the stored pointer; callers hold mu and must clone before
// handing it out.
func (m *MemoryStore) lookup(id string) (*model.CredentialSession, bool) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := v.(*model.CredentialSession)
	return s, ok
}
