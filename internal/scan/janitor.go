package scan

import (
	"cmp"
	"slices"
	"time"
)

func (m *Manager) runJanitor() {
	defer m.janitor.Done()
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.sweep(m.now()); n > 0 {
				m.logger.Debug("Evicted scan records", "count", n)
			}
		}
	}
}

// sweep evicts terminal records that completed before now-RetentionTTL,
// then the oldest terminal records while more than MaxRecords remain.
// Pending records are never evicted. It returns the number removed.
func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.cfg.RetentionTTL)
	removed := 0
	for id, e := range m.records {
		if e.rec.Status.Terminal() && e.rec.CompletedAt != nil && e.rec.CompletedAt.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}
	removed += m.trimLocked("")
	scanRecords.Set(float64(len(m.records)))
	return removed
}

// trimLocked evicts the oldest terminal records other than keep while more
// than MaxRecords remain. Callers hold m.mu.
func (m *Manager) trimLocked(keep string) int {
	excess := len(m.records) - m.cfg.MaxRecords
	if excess <= 0 {
		return 0
	}
	terminal := make([]*entry, 0, len(m.records))
	for _, e := range m.records {
		if e.rec.ID != keep && e.rec.Status.Terminal() && e.rec.CompletedAt != nil {
			terminal = append(terminal, e)
		}
	}
	slices.SortFunc(terminal, func(a, b *entry) int {
		if c := a.rec.CompletedAt.Compare(*b.rec.CompletedAt); c != 0 {
			return c
		}
		return a.rec.SubmittedAt.Compare(b.rec.SubmittedAt)
	})
	n := min(excess, len(terminal))
	for _, e := range terminal[:n] {
		delete(m.records, e.rec.ID)
	}
	return n
}

// List returns up to limit records, newest submission first. limit <= 0
// returns everything.
func (m *Manager) List(limit int) []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, e := range m.records {
		out = append(out, e.rec)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
