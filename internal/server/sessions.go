package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ProofDrop/internal/submission"
)

type session struct {
	form     *submission.Form
	lastSeen time.Time
}

// sessionStore keeps one form per visitor so a failed submit can be retried
// without re-sending the name or the file.
type sessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	items   map[string]*session
	newForm func() *submission.Form
	now     func() time.Time
}

func newSessionStore(ttl time.Duration, newForm func() *submission.Form) *sessionStore {
	return &sessionStore{
		ttl:     ttl,
		items:   make(map[string]*session),
		newForm: newForm,
		now:     time.Now,
	}
}

// get returns the form for id, creating a session under a new id when id is
// empty or unknown.
func (s *sessionStore) get(id string) (string, *submission.Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	if sess, ok := s.items[id]; ok && id != "" {
		sess.lastSeen = now
		return id, sess.form
	}
	id = uuid.NewString()
	sess := &session{form: s.newForm(), lastSeen: now}
	s.items[id] = sess
	return id, sess.form
}

// sweepLocked expires idle sessions; a form with a submit in flight is kept.
func (s *sessionStore) sweepLocked(now time.Time) {
	for id, sess := range s.items {
		if now.Sub(sess.lastSeen) > s.ttl && !sess.form.Submitting() {
			delete(s.items, id)
		}
	}
}
