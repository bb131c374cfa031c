package workflow

// StatusSummary represents lightweight manager diagnostics.
type StatusSummary struct {
	Active    int
	Counts    map[Status]int
	Workflows []Summary
	LastError string
}

// Status returns per-workflow summaries in submission order plus status counts.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	runs := make([]*trackedRun, 0, len(m.order))
	active := 0
	for _, id := range m.order {
		run := m.runs[id]
		runs = append(runs, run)
		if run.active {
			active++
		}
	}
	lastErr := m.lastErr
	m.mu.RUnlock()

	summary := StatusSummary{
		Active:    active,
		Counts:    make(map[Status]int),
		Workflows: make([]Summary, 0, len(runs)),
	}
	for _, run := range runs {
		s := run.exec.Summary()
		summary.Counts[s.Status]++
		summary.Workflows = append(summary.Workflows, s)
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
