package dispatch

import "context"

var workflows = []string{
	"commune", "consult", "inscribe", "reflect",
	"understand", "govern", "explore", "maintain",
}

// Dispatch is the single entry point a transport (MCP tool call, CLI
// command) calls into: it validates the workflow name, then delegates to
// the matching per-workflow dispatcher. args carries the action's raw
// keyword arguments, including an optional `_client_meta` side-channel
// that inscribe strips and uses for provenance.
func Dispatch(ctx context.Context, d *Deps, sessionID, projectPath, workflow, action string, args map[string]interface{}) (interface{}, error) {
	p := params(args)
	switch workflow {
	case "commune":
		return Commune(d, projectPath, action, p)
	case "consult":
		return Consult(ctx, d, sessionID, projectPath, action, p)
	case "inscribe":
		return Inscribe(ctx, d, sessionID, projectPath, action, args)
	case "reflect":
		return Reflect(ctx, d, sessionID, projectPath, action, p)
	case "understand":
		return Understand(d, projectPath, action, p)
	case "govern":
		return Govern(d, projectPath, action, p)
	case "explore":
		return Explore(d, projectPath, action, p)
	case "maintain":
		return Maintain(d, projectPath, action, p)
	}
	return nil, NewInvalidActionError(workflow, workflows)
}
