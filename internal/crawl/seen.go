package crawl

import "sync"

// SeenReferenceSet tracks portal references resolved during one run.
// References loaded with Preload are remembered as such so the caller can
// tell "already persisted" apart from "seen twice this run".
type SeenReferenceSet struct {
	mu   sync.RWMutex
	seen map[string]bool // value: preloaded
}

func NewSeenReferenceSet() *SeenReferenceSet {
	return &SeenReferenceSet{seen: make(map[string]bool)}
}

func (s *SeenReferenceSet) Preload(refs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range refs {
		if r != "" {
			s.seen[r] = true
		}
	}
}

// Add returns true if ref was newly added, false if already present.
func (s *SeenReferenceSet) Add(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[ref]; ok {
		return false
	}
	s.seen[ref] = false
	return true
}

func (s *SeenReferenceSet) Contains(ref string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[ref]
	return ok
}

// Preloaded reports whether ref came from Preload rather than this run.
func (s *SeenReferenceSet) Preloaded(ref string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seen[ref]
}

func (s *SeenReferenceSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// urlSet suppresses a second detail fetch for the same URL within a run,
// before any reference is known.
type urlSet map[string]struct{}

func (u urlSet) add(url string) bool {
	if _, ok := u[url]; ok {
		return false
	}
	u[url] = struct{}{}
	return true
}
