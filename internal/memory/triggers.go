package memory

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// AddContextTriggerRequest describes a new proactive-recall trigger (§3).
type AddContextTriggerRequest struct {
	Project        string
	TriggerType    string // file_pattern | tag_match | entity_match
	Pattern        string
	RecallTopic    string
	CategoryFilter string
	Priority       int
}

// AddContextTrigger persists a new trigger, active by default.
func (m *Manager) AddContextTrigger(req AddContextTriggerRequest) (*store.ContextTrigger, error) {
	if req.TriggerType == "" || req.Pattern == "" || req.RecallTopic == "" {
		return nil, fmt.Errorf("add_trigger: trigger_type, pattern and recall_topic are required")
	}
	t := &store.ContextTrigger{
		ID:             uuid.NewString(),
		Project:        req.Project,
		TriggerType:    req.TriggerType,
		Pattern:        req.Pattern,
		RecallTopic:    req.RecallTopic,
		CategoryFilter: req.CategoryFilter,
		Priority:       req.Priority,
		IsActive:       true,
	}
	if err := m.store.InsertContextTrigger(t); err != nil {
		return nil, fmt.Errorf("add_trigger: %w", err)
	}
	return t, nil
}

// ListContextTriggers returns a project's triggers, highest priority
// first, optionally restricted to active ones only.
func (m *Manager) ListContextTriggers(project string, activeOnly bool) ([]*store.ContextTrigger, error) {
	var (
		triggers []*store.ContextTrigger
		err      error
	)
	if activeOnly {
		triggers, err = m.store.ActiveContextTriggers(project)
	} else {
		triggers, err = m.store.AllContextTriggers(project)
	}
	if err != nil {
		return nil, fmt.Errorf("list_triggers: %w", err)
	}
	return triggers, nil
}

// RemoveContextTrigger deletes a trigger by id.
func (m *Manager) RemoveContextTrigger(triggerID string) error {
	if err := m.store.DeleteContextTrigger(triggerID); err != nil {
		return fmt.Errorf("remove_trigger: %w", err)
	}
	return nil
}

// MatchContextTriggers finds every active trigger whose pattern matches
// value for the given triggerType, recording a fire on each match. The
// host-side file watcher or tool-call observer is expected to call this
// once per observed file/tag/entity and then issue the resulting
// recall_topic/category_filter pairs as ordinary Recall calls; the match
// itself never recalls on the trigger's behalf.
func (m *Manager) MatchContextTriggers(project, triggerType, value string) ([]*store.ContextTrigger, error) {
	triggers, err := m.store.ActiveContextTriggers(project)
	if err != nil {
		return nil, fmt.Errorf("match_triggers: %w", err)
	}

	var matched []*store.ContextTrigger
	for _, t := range triggers {
		if t.TriggerType != triggerType {
			continue
		}
		if !patternMatches(t.TriggerType, t.Pattern, value) {
			continue
		}
		matched = append(matched, t)
		if err := m.store.RecordTrigger(t.ID); err != nil {
			continue
		}
	}
	return matched, nil
}

func patternMatches(triggerType, pattern, value string) bool {
	switch triggerType {
	case "file_pattern":
		ok, err := filepath.Match(pattern, value)
		if err != nil {
			return strings.Contains(value, pattern)
		}
		return ok
	default: // tag_match, entity_match
		return strings.EqualFold(pattern, value)
	}
}
