package server

import (
	"sync"

	"github.com/cyclopcam/livetrack/server/session"
)

// sessionRegistry tracks the running sessions, so that we can report on them.
// Stats of finished sessions are folded into 'finished'.
type sessionRegistry struct {
	lock     sync.Mutex
	active   map[string]*session.Session
	finished session.Stats
	nTotal   int64
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		active: map[string]*session.Session{},
	}
}

func (r *sessionRegistry) add(s *session.Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.active[s.ID()] = s
	r.nTotal++
}

func (r *sessionRegistry) remove(s *session.Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.active[s.ID()]; !ok {
		return
	}
	delete(r.active, s.ID())
	st := s.Stats()
	r.finished.Add(&st)
}

// Returns the number of active sessions, the total number of sessions ever
// started, and the sum of all session stats (active and finished).
func (r *sessionRegistry) summary() (nActive int, nTotal int64, stats session.Stats) {
	r.lock.Lock()
	defer r.lock.Unlock()
	stats = r.finished
	for _, s := range r.active {
		st := s.Stats()
		stats.Add(&st)
	}
	return len(r.active), r.nTotal, stats
}
