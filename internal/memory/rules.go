package memory

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/bm25"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// AddRuleRequest describes a new decision-tree rule (§3).
type AddRuleRequest struct {
	Project       string
	TriggerPhrase string
	MustDo        []string
	MustNot       []string
	AskFirst      []string
	Warnings      []string
	Priority      int
}

// AddRule persists a new rule, enabled by default.
func (m *Manager) AddRule(req AddRuleRequest) (*store.Rule, error) {
	if req.TriggerPhrase == "" {
		return nil, fmt.Errorf("add_rule: trigger is required")
	}
	r := &store.Rule{
		ID:            uuid.NewString(),
		Project:       req.Project,
		TriggerPhrase: req.TriggerPhrase,
		MustDo:        req.MustDo,
		MustNot:       req.MustNot,
		AskFirst:      req.AskFirst,
		Warnings:      req.Warnings,
		Priority:      req.Priority,
		Enabled:       true,
	}
	if err := m.store.InsertRule(r); err != nil {
		return nil, fmt.Errorf("add_rule: %w", err)
	}
	return r, nil
}

// UpdateRuleRequest carries optional overrides; nil fields leave the
// existing rule's value unchanged.
type UpdateRuleRequest struct {
	MustDo   []string
	MustNot  []string
	AskFirst []string
	Warnings []string
	Priority *int
	Enabled  *bool
}

// UpdateRule partially updates an existing rule by id.
func (m *Manager) UpdateRule(ruleID string, req UpdateRuleRequest) (*store.Rule, error) {
	r, err := m.store.GetRule(ruleID)
	if err != nil {
		return nil, fmt.Errorf("update_rule: %w", err)
	}
	if req.MustDo != nil {
		r.MustDo = req.MustDo
	}
	if req.MustNot != nil {
		r.MustNot = req.MustNot
	}
	if req.AskFirst != nil {
		r.AskFirst = req.AskFirst
	}
	if req.Warnings != nil {
		r.Warnings = req.Warnings
	}
	if req.Priority != nil {
		r.Priority = *req.Priority
	}
	if req.Enabled != nil {
		r.Enabled = *req.Enabled
	}
	if err := m.store.UpdateRule(r); err != nil {
		return nil, fmt.Errorf("update_rule: %w", err)
	}
	return r, nil
}

// ListRules returns a project's configured rules, highest priority
// first, optionally restricted to enabled-only and capped
// at limit (0 means no cap).
func (m *Manager) ListRules(project string, enabledOnly bool, limit int) ([]*store.Rule, error) {
	rules, err := m.store.ListRules(project, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("list_rules: %w", err)
	}
	if limit > 0 && len(rules) > limit {
		rules = rules[:limit]
	}
	return rules, nil
}

// RuleGuidance is the union of every matched rule's action lists.
type RuleGuidance struct {
	MustDo   []string `json:"must_do,omitempty"`
	MustNot  []string `json:"must_not,omitempty"`
	AskFirst []string `json:"ask_first,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// CheckRulesResult is what governs a pending action: the merged
// guidance plus which rules triggered it.
type CheckRulesResult struct {
	Guidance     RuleGuidance  `json:"guidance"`
	MatchedRules []*store.Rule `json:"matched_rules"`
}

// CheckRules matches action against every enabled rule's trigger phrase
// using a one-shot BM25 index built from the rules themselves (rule
// trigger phrases are short, so keyword overlap is a sufficient and
// cheap stand-in for the full hybrid search used by Recall). Rules with
// any scoring overlap are considered matched, highest priority first.
func (m *Manager) CheckRules(project, action string) (*CheckRulesResult, error) {
	rules, err := m.store.ListRules(project, true)
	if err != nil {
		return nil, fmt.Errorf("check_rules: %w", err)
	}
	if len(rules) == 0 {
		return &CheckRulesResult{}, nil
	}

	idx := bm25.New(bm25.DefaultConfig())
	byID := make(map[string]*store.Rule, len(rules))
	for _, r := range rules {
		idx.AddDocument(r.ID, r.TriggerPhrase, nil)
		byID[r.ID] = r
	}

	scores := idx.Scores(action)
	var matched []*store.Rule
	for id, score := range scores {
		if score <= 0 {
			continue
		}
		matched = append(matched, byID[id])
	}
	sortRulesByPriority(matched)

	result := &CheckRulesResult{MatchedRules: matched}
	for _, r := range matched {
		result.Guidance.MustDo = append(result.Guidance.MustDo, r.MustDo...)
		result.Guidance.MustNot = append(result.Guidance.MustNot, r.MustNot...)
		result.Guidance.AskFirst = append(result.Guidance.AskFirst, r.AskFirst...)
		result.Guidance.Warnings = append(result.Guidance.Warnings, r.Warnings...)
	}
	return result, nil
}

func sortRulesByPriority(rules []*store.Rule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].Priority > rules[j-1].Priority; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}
