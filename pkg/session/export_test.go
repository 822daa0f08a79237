package session

// Renewer exposes the manager's renewer to tests.
func (m *Manager) Renewer() *Renewer {
	return m.renewer
}

func (s *State) FinishLoading() {
	s.finishLoading()
}

func (s *State) Clear() {
	s.clear()
}
