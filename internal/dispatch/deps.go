package dispatch

import (
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/covenant"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/dream"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/phase"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/tasks"
)

// Deps bundles every component a workflow dispatcher may call into. One
// Deps is built once per daemon and shared across all sessions; the
// per-project state each component needs (covenant session, phase,
// dreaming) is keyed internally by project path.
type Deps struct {
	Memory   *memory.Manager
	Covenant *covenant.Middleware
	Session  *covenant.StoreBackend
	Phase    *phase.Tracker
	Store    *store.Store
	Tasks    *tasks.Manager

	// Dreamers holds one scheduler per project, looked up by the caller
	// (commune's health action reports IsDreaming()). A nil
	// map means no project is tracked, e.g. in tests that don't exercise
	// dreaming at all.
	Dreamers map[string]*dream.Scheduler

	// ToolExecutionEnabled gates reflect's execute action (§6
	// DEVILMCP_TOOL_EXECUTION_ENABLED).
	ToolExecutionEnabled bool
}

// Gate runs a (workflow, action) pair through the phase-visibility and
// covenant checks before a handler does any work, translating both into
// the legacy single-tool-call vocabulary the two subsystems already
// enforce. It also advances the phase tracker on success, matching the
// original's call-then-transition order.
func (d *Deps) Gate(projectPath, workflow, action string) error {
	tool, ok := legacyTool(workflow, action)
	if !ok {
		// No legacy name exists for this (workflow, action) pair -- it is
		// a supplemental action this rewrite adds with no equivalent in
		// the covenant/phase vocabulary, so no gating applies to it.
		return nil
	}

	if v := d.Phase.CheckToolVisible(projectPath, tool); v != nil {
		return &GateViolation{Kind: "phase", Phase: v}
	}
	if v := d.Covenant.CheckToolAccess(tool, projectPath); v != nil {
		return &GateViolation{Kind: "covenant", Covenant: v}
	}
	d.Phase.OnToolCalled(projectPath, tool)
	return nil
}

// GateViolation wraps whichever of the two gate checks failed, so a
// transport layer can serialize the original structured violation
// untouched.
type GateViolation struct {
	Kind     string
	Phase    *phase.Violation
	Covenant *covenant.Violation
}

func (e *GateViolation) Error() string {
	if e.Covenant != nil {
		return e.Covenant.Message
	}
	if e.Phase != nil {
		return e.Phase.Message
	}
	return "blocked"
}

// legacyTool maps a (workflow, action) pair onto the single-tool-call name
// covenant.go's exempt/communion/counsel tables and phase.go's visibility
// tables already classify. Actions this rewrite adds with no predecessor
// in that vocabulary (context triggers, background task control) are
// mapped onto the nearest-tier existing name so they still receive a
// sensible gate, documented per group below.
func legacyTool(workflow, action string) (string, bool) {
	switch workflow {
	case "commune":
		switch action {
		case "brief":
			return "get_briefing", true
		case "context_check":
			return "context_check", true
		case "health":
			return "health", true
		}
	case "consult":
		switch action {
		case "preflight":
			return "context_check", true
		case "recall":
			return "recall", true
		case "recall_file":
			return "recall_for_file", true
		case "recall_entity":
			return "recall_by_entity", true
		case "recall_hierarchical":
			return "recall_hierarchical", true
		case "search":
			return "search_memories", true
		case "check_rules":
			return "check_rules", true
		case "compress":
			return "compress_context", true
		}
	case "inscribe":
		switch action {
		case "remember":
			return "remember", true
		case "remember_batch", "ingest":
			// ingest chunks one document into several learnings, the same
			// communion tier as a batch remember.
			return "remember_batch", true
		case "link":
			return "link_memories", true
		case "unlink":
			return "unlink_memories", true
		case "pin":
			return "pin_memory", true
		case "activate":
			return "set_active_context", true
		case "deactivate":
			return "remove_from_active_context", true
		case "clear_active":
			return "clear_active_context", true
		}
	case "reflect":
		switch action {
		case "outcome":
			return "record_outcome", true
		case "verify":
			return "verify_facts", true
		case "execute":
			return "execute", true
		}
	case "understand":
		switch action {
		case "find":
			return "find_code", true
		case "impact":
			return "analyze_impact", true
		case "index", "todos", "refactor":
			// These three require real source-code scanning and are
			// handled by the external code-indexer integration; they are
			// read-only from this daemon's point of view, so they share
			// find_code's exempt tier.
			return "find_code", true
		}
	case "govern":
		switch action {
		case "add_rule":
			return "add_rule", true
		case "update_rule":
			return "update_rule", true
		case "list_rules":
			return "list_rules", true
		case "add_trigger":
			// Context triggers have no predecessor tool name; they are
			// governance writes, so they take add_rule's communion tier.
			return "add_rule", true
		case "list_triggers":
			return "list_rules", true
		case "remove_trigger":
			return "add_rule", true
		}
	case "explore":
		switch action {
		case "get_graph":
			return "get_graph", true
		case "trace_chain":
			return "trace_chain", true
		case "list_communities":
			return "list_communities", true
		case "community_detail":
			return "get_community_details", true
		case "list_entities":
			return "list_entities", true
		case "memory_versions":
			return "get_memory_versions", true
		case "memory_at_time":
			return "get_memory_at_time", true
		}
	case "maintain":
		switch action {
		case "list_tasks", "task_status", "stats":
			return "health", true
		case "cancel_task":
			// Cancelling a running task is an administrative mutation
			// with no closer analogue than execute's communion tier.
			return "execute", true
		}
	}
	return "", false
}
