package server

import "github.com/dharsanguruparan/ProofDrop/internal/submission"

// peek returns an existing form without creating one or touching lastSeen.
func (s *sessionStore) peek(id string) *submission.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.items[id]; ok {
		return sess.form
	}
	return nil
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
