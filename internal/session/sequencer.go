// Package session keeps a view's visible result in step with its most
// recently issued compute request.
package session

import "sync"

// Token is the request identity captured when a compute cycle starts.
type Token struct {
	seq uint64
}

// Seq returns the token's position in issue order.
func (t Token) Seq() uint64 { return t.seq }

// Sequencer issues monotonically increasing tokens. A result may be
// committed only while its token is the latest one issued, so a slow
// older request can never overwrite a newer one. The zero value is ready
// to use.
type Sequencer struct {
	mu      sync.Mutex
	current uint64
}

// Issue starts a new cycle and supersedes every earlier token.
func (s *Sequencer) Issue() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	return Token{seq: s.current}
}

// Current returns the sequence number of the latest token.
func (s *Sequencer) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsCurrent reports whether t is still the latest token.
func (s *Sequencer) IsCurrent(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.seq == s.current
}

// Commit runs apply if t is still current and reports whether it ran. No
// Issue can interleave with apply; apply must not call back into s.
func (s *Sequencer) Commit(t Token, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.seq != s.current {
		return false
	}
	apply()
	return true
}

// Invalidate supersedes every outstanding token without starting a cycle.
func (s *Sequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
}
