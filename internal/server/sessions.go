package server

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/copyleftdev/laplace/internal/logging"
	"github.com/copyleftdev/laplace/internal/problem"
)

// session is one inference kept between requests so that later updates
// warm start from its dual variable. mu serialises work on the problem.
type session struct {
	mu sync.Mutex

	id        string
	problem   *problem.Problem
	createdAt time.Time
	updatedAt time.Time
	updates   int
	result    *problem.Result

	deleted atomic.Bool
}

// sessionView is the JSON representation of a session.
type sessionView struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Updates      int             `json:"updates"`
	Observations int             `json:"observations"`
	Kernel       string          `json:"kernel"`
	Likelihood   string          `json:"likelihood"`
	Scale        float64         `json:"scale"`
	Method       string          `json:"method"`
	Result       *problem.Result `json:"result,omitempty"`
}

// view must be called with s.mu held.
func (s *session) view() *sessionView {
	def := s.problem.Definition()
	inf := s.problem.Inference()
	return &sessionView{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
		Updates:      s.updates,
		Observations: s.problem.Len(),
		Kernel:       def.Kernel.Name,
		Likelihood:   def.Likelihood.Name,
		Scale:        inf.Scale(),
		Method:       string(inf.Config().Method),
		Result:       s.result,
	}
}

// sessionStore is a bounded, concurrency-safe set of sessions. The least
// recently used session is evicted when the store is full.
type sessionStore struct {
	cache *lru.Cache[string, *session]
}

func newSessionStore(size int, logger *logging.Logger) (*sessionStore, error) {
	cache, err := lru.NewWithEvict[string, *session](size, func(id string, s *session) {
		reason := "evicted"
		if s.deleted.Load() {
			reason = "deleted"
		}
		sessionsRemoved.WithLabelValues(reason).Inc()
		logger.Debug("Session removed", map[string]interface{}{
			"session": id,
			"reason":  reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return &sessionStore{cache: cache}, nil
}

func (st *sessionStore) add(s *session) {
	st.cache.Add(s.id, s)
	sessionsActive.Set(float64(st.cache.Len()))
}

func (st *sessionStore) get(id string) (*session, bool) {
	return st.cache.Get(id)
}

func (st *sessionStore) remove(id string) bool {
	s, ok := st.cache.Peek(id)
	if !ok {
		return false
	}
	s.deleted.Store(true)
	removed := st.cache.Remove(id)
	sessionsActive.Set(float64(st.cache.Len()))
	return removed
}

func (st *sessionStore) len() int {
	return st.cache.Len()
}

func (st *sessionStore) purge() {
	st.cache.Purge()
	sessionsActive.Set(0)
}
