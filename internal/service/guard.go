package service

// claim marks a takeover or release in flight for the session. The guard is
// set synchronously, before any dispatch I/O starts, so rapid duplicate
// requests yield exactly one dispatch. Returns false when another operation
// already holds the session.
func (s *TakeoverService) claim(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[sessionID] {
		return false
	}
	s.inFlight[sessionID] = true
	return true
}

func (s *TakeoverService) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sessionID)
}
