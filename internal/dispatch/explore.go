package dispatch

import (
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/temporal"
)

var exploreActions = []string{
	"get_graph", "trace_chain", "list_communities",
	"community_detail", "list_entities", "memory_versions", "memory_at_time",
}

// Explore is the graph/entity/version browsing workflow facade. No
// workflows/*.py source for this name was available; its action set is
// drawn directly from phase.go's Exploration-phase tool visibility list
// (get_graph, trace_chain, list_communities, get_community_details,
// list_entities, get_memory_versions, get_memory_at_time), each wired to
// the C6 graph/entity store and the C7 bi-temporal engine.
func Explore(d *Deps, projectPath, action string, p params) (interface{}, error) {
	if !contains(exploreActions, action) {
		return nil, NewInvalidActionError(action, exploreActions)
	}
	if err := d.Gate(projectPath, "explore", action); err != nil {
		return nil, err
	}

	switch action {
	case "get_graph":
		return d.Store.AllEdges(projectPath)

	case "trace_chain":
		entityID, err := p.requireStr(action, "entity_id")
		if err != nil {
			return nil, err
		}
		return temporal.TraceEntityEvolution(d.Store, entityID, p.boolVal("include_invalidated", true))

	case "list_communities":
		return d.Store.CommunitiesByLevel(projectPath, p.intVal("level", 0))

	case "community_detail":
		communityID, err := p.requireStr(action, "community_id")
		if err != nil {
			return nil, err
		}
		return d.Store.GetCommunity(communityID)

	case "list_entities":
		return d.Store.EntitiesForProject(projectPath, p.str("name_contains"), p.intVal("limit", 50))

	case "memory_versions":
		memoryID, err := p.requireStr(action, "memory_id")
		if err != nil {
			return nil, err
		}
		return d.Store.VersionsForMemories([]string{memoryID}, p.boolVal("include_invalidated", true))

	case "memory_at_time":
		memoryID, err := p.requireStr(action, "memory_id")
		if err != nil {
			return nil, err
		}
		asOf := time.Now().UTC()
		if t := p.timePtr("as_of_time"); t != nil {
			asOf = *t
		}
		return temporal.AsOf(d.Store, memoryID, asOf, nil)
	}

	return nil, NewInvalidActionError(action, exploreActions)
}
