package memory

import (
	"fmt"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// ActivateContext pins a memory into sessionID's always-hot working
// context. If expiresInHours is > 0 the pin lapses after that many hours;
// 0 pins it for the remainder of the session.
func (m *Manager) ActivateContext(sessionID, memoryID, project string, expiresInHours float64) error {
	var expiresAt *time.Time
	if expiresInHours > 0 {
		t := time.Now().UTC().Add(time.Duration(expiresInHours * float64(time.Hour)))
		expiresAt = &t
	}
	if err := m.store.SetActiveContext(sessionID, memoryID, project, expiresAt); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// DeactivateContext unpins a single memory from sessionID's working context.
func (m *Manager) DeactivateContext(sessionID, memoryID string) error {
	if err := m.store.ClearActiveContextEntry(sessionID, memoryID); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return nil
}

// ClearActiveContext empties a session's entire working context.
func (m *Manager) ClearActiveContext(sessionID string) error {
	if err := m.store.ClearActiveContext(sessionID); err != nil {
		return fmt.Errorf("clear_active: %w", err)
	}
	return nil
}

// prependActiveContext puts a session's pinned working-context memories
// first in results, deduplicating anything already present.
func (m *Manager) prependActiveContext(sessionID string, results []*store.Memory) []*store.Memory {
	pinned, err := m.ActiveContext(sessionID)
	if err != nil || len(pinned) == 0 {
		return results
	}

	present := make(map[string]bool, len(results))
	for _, mm := range results {
		present[mm.ID] = true
	}

	out := make([]*store.Memory, 0, len(pinned)+len(results))
	for _, mm := range pinned {
		if !present[mm.ID] {
			out = append(out, mm)
			present[mm.ID] = true
		}
	}
	return append(out, results...)
}

// ActiveContext hydrates a session's live working-context memories,
// silently skipping any id whose memory has since been deleted.
func (m *Manager) ActiveContext(sessionID string) ([]*store.Memory, error) {
	ids, err := m.store.ActiveContextMemories(sessionID)
	if err != nil {
		return nil, fmt.Errorf("active_context: %w", err)
	}
	out := make([]*store.Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := m.store.GetMemory(id)
		if err != nil {
			continue
		}
		out = append(out, mem)
	}
	return out, nil
}
