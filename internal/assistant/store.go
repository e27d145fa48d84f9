package assistant

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Store keeps sessions in memory. A session expires after ttl without use.
type Store struct {
	cache     *cache.Cache
	extractor Extractor
	confirmer Confirmer
	logger    *zap.Logger
}

func NewStore(ttl time.Duration, ex Extractor, cf Confirmer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cache.New(ttl, ttl)
	c.OnEvicted(func(id string, v any) {
		if s, ok := v.(*Session); ok {
			s.Close()
		}
	})
	return &Store{cache: c, extractor: ex, confirmer: cf, logger: logger}
}

func (st *Store) Create() *Session {
	s := NewSession(uuid.NewString(), st.extractor, st.confirmer, st.logger)
	st.cache.Set(s.ID, s, cache.DefaultExpiration)
	return s
}

// Get returns the session and extends its expiry.
func (st *Store) Get(id string) (*Session, bool) {
	v, ok := st.cache.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	st.cache.Set(id, s, cache.DefaultExpiration)
	return s, true
}

// Delete ends the session, cancelling any running extraction.
func (st *Store) Delete(id string) bool {
	if _, ok := st.cache.Get(id); !ok {
		return false
	}
	st.cache.Delete(id)
	return true
}

func (st *Store) Len() int {
	return st.cache.ItemCount()
}
