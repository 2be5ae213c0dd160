// Package covenant implements the covenant enforcement middleware (C9): a
// stateful filter invoked on every client tool call that gates mutating
// tools behind "communion" (a briefing in this session) and "counsel" (a
// recent context check), and strips the client-provenance side-channel
// from tool arguments before they reach validation.
package covenant

import (
	"sync/atomic"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Violation is a structured covenant-rule failure returned to the client
// in place of running the tool.
type Violation struct {
	Status      string  `json:"status"`
	Violation   string  `json:"violation"`
	Message     string  `json:"message"`
	Remedy      Remedy  `json:"remedy"`
	ProjectPath string  `json:"project_path"`
	ToolBlocked string  `json:"tool_blocked,omitempty"`
	AgeSeconds  float64 `json:"age_seconds,omitempty"`
}

// Remedy names the tool (and optional argument hint) a blocked caller
// should invoke to unblock itself.
type Remedy struct {
	Tool string `json:"tool"`
	Hint string `json:"hint,omitempty"`
}

func communionRequired(projectPath string) *Violation {
	return &Violation{
		Status:      "blocked",
		Violation:   "COMMUNION_REQUIRED",
		Message:     "call get_briefing before any mutating tool in this session",
		Remedy:      Remedy{Tool: "get_briefing"},
		ProjectPath: projectPath,
	}
}

func counselRequired(tool, projectPath string) *Violation {
	return &Violation{
		Status:      "blocked",
		Violation:   "COUNSEL_REQUIRED",
		Message:     "call context_check with a plan before this operation",
		Remedy:      Remedy{Tool: "context_check", Hint: "describe what you are about to do and why"},
		ProjectPath: projectPath,
		ToolBlocked: tool,
	}
}

func counselExpired(tool, projectPath string, ageSeconds float64) *Violation {
	return &Violation{
		Status:      "blocked",
		Violation:   "COUNSEL_EXPIRED",
		Message:     "your last context_check is stale, call it again",
		Remedy:      Remedy{Tool: "context_check", Hint: "describe what you are about to do and why"},
		ProjectPath: projectPath,
		ToolBlocked: tool,
		AgeSeconds:  ageSeconds,
	}
}

// ContextCheck is a single (topic, timestamp) record written by a
// context_check call.
type ContextCheck struct {
	Topic     string
	Timestamp time.Time
}

// State is one project's covenant session state.
type State struct {
	Briefed       bool
	ContextChecks []ContextCheck
}

// StateGetter resolves a project's current covenant state. A nil return
// is treated the same as an un-briefed, counsel-less session.
type StateGetter func(projectPath string) *State

// exemptTools are always allowed regardless of session state.
var exemptTools = map[string]bool{
	"get_briefing":        true,
	"health":              true,
	"context_check":       true,
	"recall":              true,
	"recall_for_file":     true,
	"recall_by_entity":    true,
	"recall_hierarchical": true,
	"search_memories":     true,
	"find_related":        true,
	"find_code":           true,
	"check_rules":         true,
	"list_rules":          true,
	"list_entities":       true,
	"list_communities":    true,
	"get_community_details": true,
	"get_graph":             true,
	"trace_chain":           true,
	"get_memory_versions":   true,
	"get_memory_at_time":    true,
	"analyze_impact":        true,
}

// communionRequiredTools need a briefing but not fresh counsel.
var communionRequiredTools = map[string]bool{
	"remember":       true,
	"remember_batch": true,
	"add_rule":       true,
	"update_rule":    true,
	"link_memories":  true,
	"unlink_memories": true,
	"pin_memory":      true,
	"archive_memory":  true,
	"execute":         true,
	"execute_python":  true,
	"record_outcome":  true,
	"verify_facts":    true,
	"prune_memories":  true,
}

// counselRequiredTools additionally need a context_check within the TTL --
// the highly destructive subset of communionRequiredTools.
var counselRequiredTools = map[string]bool{
	"remember":        true,
	"prune_memories":  true,
	"archive_memory":  true,
	"unlink_memories": true,
	"update_rule":     true,
}

// DefaultCounselTTL matches the original covenant's five-minute window.
const DefaultCounselTTL = 300 * time.Second

// Middleware runs check_tool_access against an externally-owned session
// state store.
type Middleware struct {
	getState StateGetter
	ttl      atomic.Int64 // nanoseconds; read/written via SetTTL for config hot-reload
}

// New wires a covenant middleware against a state getter, defaulting the
// counsel TTL to five minutes when ttl <= 0.
func New(getState StateGetter, ttl time.Duration) *Middleware {
	if ttl <= 0 {
		ttl = DefaultCounselTTL
	}
	mw := &Middleware{getState: getState}
	mw.ttl.Store(int64(ttl))
	return mw
}

// SetTTL updates the counsel freshness window in place, letting a config
// file watcher push a new value without rebuilding the middleware or
// dropping in-flight session state.
func (mw *Middleware) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCounselTTL
	}
	mw.ttl.Store(int64(ttl))
}

// CheckToolAccess returns nil (allow) or a Violation describing why the
// call is blocked and how to unblock it.
func (mw *Middleware) CheckToolAccess(tool, projectPath string) *Violation {
	timer := logging.StartTimer(logging.CategoryCovenant, "CheckToolAccess")
	defer timer.Stop()

	if exemptTools[tool] {
		return nil
	}

	state := mw.getState(projectPath)
	if state == nil || !state.Briefed {
		return communionRequired(projectPath)
	}
	if !communionRequiredTools[tool] && !counselRequiredTools[tool] {
		// Unclassified tools default to communion-only, matching the
		// original's closed allow-lists rather than silently exempting
		// anything unrecognized.
		return nil
	}

	if !counselRequiredTools[tool] {
		return nil
	}

	freshest, ok := freshestCheck(state.ContextChecks)
	if !ok {
		return counselRequired(tool, projectPath)
	}
	age := time.Since(freshest)
	if ttl := time.Duration(mw.ttl.Load()); age > ttl {
		return counselExpired(tool, projectPath, age.Seconds())
	}
	return nil
}

func freshestCheck(checks []ContextCheck) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, c := range checks {
		if !found || c.Timestamp.After(latest) {
			latest = c.Timestamp
			found = true
		}
	}
	return latest, found
}

// ClientMeta is the parsed `_client_meta` provenance side-channel.
type ClientMeta struct {
	Client     string `json:"client"`
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// ExtractClientMeta pulls `_client_meta` out of a raw argument map and
// returns the remaining arguments plus the parsed metadata (zero value if
// absent or malformed). Mutates neither the caller's map nor its values --
// it copies before deleting, so the original arguments map for logging or
// retries stays intact.
func ExtractClientMeta(args map[string]interface{}) (map[string]interface{}, ClientMeta) {
	var meta ClientMeta
	if args == nil {
		return args, meta
	}
	raw, ok := args["_client_meta"]
	if !ok {
		return args, meta
	}

	out := make(map[string]interface{}, len(args)-1)
	for k, v := range args {
		if k == "_client_meta" {
			continue
		}
		out[k] = v
	}

	if obj, ok := raw.(map[string]interface{}); ok {
		if s, ok := obj["client"].(string); ok {
			meta.Client = s
		}
		if s, ok := obj["providerID"].(string); ok {
			meta.ProviderID = s
		}
		if s, ok := obj["modelID"].(string); ok {
			meta.ModelID = s
		}
	}
	return out, meta
}
