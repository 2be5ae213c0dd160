// Package phase implements the ritual phase tracker and tool-visibility
// filter (C10): a per-project four-phase state machine that advances on
// tool calls and restricts which tools are visible in each phase.
package phase

import (
	"sync"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Phase is one of the four stages of the covenant flow.
type Phase string

const (
	Briefing    Phase = "briefing"
	Exploration Phase = "exploration"
	Action      Phase = "action"
	Reflection  Phase = "reflection"
)

// visibility is the explicit per-phase tool allow-list (§4.10).
var visibility = map[Phase]map[string]bool{
	Briefing: set(
		"get_briefing", "health", "recall", "list_rules", "get_graph",
		"context_check",
	),
	Exploration: set(
		"get_briefing", "health", "recall", "recall_for_file", "search_memories",
		"find_related", "check_rules", "list_rules", "find_code", "analyze_impact",
		"get_graph", "trace_chain", "context_check", "recall_hierarchical",
		"list_communities", "get_community_details", "recall_by_entity",
		"list_entities", "get_memory_versions", "get_memory_at_time",
	),
	Action: set(
		"get_briefing", "health", "recall", "recall_for_file", "context_check",
		"remember", "remember_batch", "add_rule", "update_rule", "record_outcome",
		"link_memories", "unlink_memories", "pin_memory", "archive_memory",
		"execute", "execute_python", "set_active_context",
		"remove_from_active_context", "clear_active_context",
	),
	Reflection: set(
		"get_briefing", "health", "recall", "verify_facts", "record_outcome",
		"compress_context", "search_memories", "find_related", "get_memory_versions",
	),
}

func set(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// transitions maps a tool name to the phase it advances a project into.
// Tools absent from this map never move the phase.
var transitions = map[string]Phase{
	"get_briefing":  Briefing,
	"context_check": Exploration,

	"remember":       Action,
	"remember_batch": Action,
	"add_rule":       Action,
	"update_rule":    Action,
	"execute":        Action,
	"execute_python": Action,

	"record_outcome": Reflection,
	"verify_facts":   Reflection,
}

// Violation is returned when a tool is invoked outside its visible phase.
type Violation struct {
	Status      string `json:"status"`
	Violation   string `json:"violation"`
	Message     string `json:"message"`
	VisibleIn   Phase  `json:"visible_in_phase"`
	ProjectPath string `json:"project_path"`
}

// Tracker keeps per-project phase and last-activity state in memory.
type Tracker struct {
	mu           sync.Mutex
	phases       map[string]Phase
	lastActivity map[string]time.Time
}

// New creates an empty tracker; every unseen project starts in Briefing.
func New() *Tracker {
	return &Tracker{
		phases:       make(map[string]Phase),
		lastActivity: make(map[string]time.Time),
	}
}

// GetPhase returns a project's current phase, defaulting to Briefing.
func (t *Tracker) GetPhase(projectPath string) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getPhaseLocked(projectPath)
}

func (t *Tracker) getPhaseLocked(projectPath string) Phase {
	p, ok := t.phases[projectPath]
	if !ok {
		return Briefing
	}
	return p
}

// OnToolCalled advances a project's phase per the tool transition table
// and touches its last-activity timestamp.
func (t *Tracker) OnToolCalled(projectPath, tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity[projectPath] = time.Now().UTC()
	if p, ok := transitions[tool]; ok {
		t.phases[projectPath] = p
	}
}

// VisibleTools returns the set of tool names visible in a project's
// current phase. If projectPath is empty, the caller has no project
// context yet and gets the most restrictive (Briefing) set.
func (t *Tracker) VisibleTools(projectPath string) map[string]bool {
	t.mu.Lock()
	phase := Briefing
	if projectPath != "" {
		phase = t.getPhaseLocked(projectPath)
	}
	t.mu.Unlock()
	return visibility[phase]
}

// LastActivity reports when a project last had a tool call, if ever.
func (t *Tracker) LastActivity(projectPath string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastActivity[projectPath]
	return ts, ok
}

// Reset returns a project to Briefing (e.g. on session timeout).
func (t *Tracker) Reset(projectPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases[projectPath] = Briefing
	delete(t.lastActivity, projectPath)
}

// ClearProject removes all tracked state for a project.
func (t *Tracker) ClearProject(projectPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.phases, projectPath)
	delete(t.lastActivity, projectPath)
}

// CheckToolVisible returns nil if tool is visible in projectPath's current
// phase, or a Violation naming the phase the tool is visible in.
func (t *Tracker) CheckToolVisible(projectPath, tool string) *Violation {
	timer := logging.StartTimer(logging.CategoryPhase, "CheckToolVisible")
	defer timer.Stop()

	visible := t.VisibleTools(projectPath)
	if visible[tool] {
		return nil
	}

	return &Violation{
		Status:      "blocked",
		Violation:   "TOOL_NOT_VISIBLE",
		Message:     "this tool is not visible in the current phase",
		VisibleIn:   phaseFor(tool),
		ProjectPath: projectPath,
	}
}

// phaseFor finds a phase whose visibility set includes tool, for the
// violation hint. Returns Briefing if the tool appears nowhere (should not
// happen for a tool C13 already validated as a real action name).
func phaseFor(tool string) Phase {
	for _, p := range []Phase{Briefing, Exploration, Action, Reflection} {
		if visibility[p][tool] {
			return p
		}
	}
	return Briefing
}
