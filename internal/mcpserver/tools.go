package mcpserver

// workflowTool describes the single MCP-visible entry point for one of
// internal/dispatch's eight workflows. Each tool call carries an `action`
// selecting the workflow's behavior plus whatever kwargs that action
// needs -- the same (workflow, action, **kwargs) shape dispatch.Dispatch
// routes on, projected onto MCP's one-tool-per-name convention.
type workflowTool struct {
	name        string
	description string
}

var workflowTools = []workflowTool{
	{"commune", "Enter or check in on a project session: get briefed, declare a plan before acting, or read daemon health."},
	{"consult", "Recall stored memories: by topic, by file, by entity, hierarchically, by full-text search, or compressed into a digest."},
	{"inscribe", "Write to memory: remember a decision or pattern, link or unlink memories, pin/unpin active context, or ingest a document."},
	{"reflect", "Close the loop on past work: record an outcome, verify claims against stored facts, or run a sandboxed snippet."},
	{"understand", "Look up what is known about code: find entities, trace blast radius, or defer to the external code-indexer integration."},
	{"govern", "Manage rules and triggers: add, update, or list rules; add, list, or remove auto-recall triggers."},
	{"explore", "Walk the knowledge graph: list entities, inspect communities, trace relationship chains, or read memory history."},
	{"maintain", "Manage background work: list or cancel tasks, check task status, or read store statistics."},
}

func toolSchemas() []toolSchema {
	schemas := make([]toolSchema, 0, len(workflowTools))
	for _, t := range workflowTools {
		schemas = append(schemas, toolSchema{
			Name:        t.name,
			Description: t.description,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type":        "string",
						"description": "which operation of this workflow to run",
					},
					"project_path": map[string]interface{}{
						"type":        "string",
						"description": "absolute path identifying the project whose memory this call touches",
					},
				},
				"required":             []string{"action", "project_path"},
				"additionalProperties": true,
			},
		})
	}
	return schemas
}

func isWorkflowTool(name string) bool {
	for _, t := range workflowTools {
		if t.name == name {
			return true
		}
	}
	return false
}
