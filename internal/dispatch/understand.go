package dispatch

import "github.com/dasblueyeddevil/daem0nmcp-go/internal/store"

var understandActions = []string{"index", "find", "impact", "todos", "refactor"}

// Understand is the code-structure workflow facade. workflows/understand.py
// delegates every action to tree-sitter/code-structure server functions,
// which this daemon does not carry (the code-indexer integration is a
// separate, external collaborator). find and impact are reinterpreted
// here over the entity/graph layer (C6) that this daemon does own --
// "what do we know about this name" and "what would touching it ripple
// into" both have a real answer in the memory graph even without parsing
// source. index/todos/refactor remain valid action names but return a
// WorkflowError pointing at the external integration, since they require
// scanning source files this daemon never reads.
func Understand(d *Deps, projectPath, action string, p params) (interface{}, error) {
	if !contains(understandActions, action) {
		return nil, NewInvalidActionError(action, understandActions)
	}
	if err := d.Gate(projectPath, "understand", action); err != nil {
		return nil, err
	}

	switch action {
	case "find":
		query, err := p.requireStr(action, "query")
		if err != nil {
			return nil, err
		}
		return d.Store.EntitiesForProject(projectPath, query, p.intVal("limit", 20))

	case "impact":
		entityName, err := p.requireStr(action, "entity_name")
		if err != nil {
			return nil, err
		}
		return analyzeImpact(d, projectPath, entityName, p.str("entity_type"))

	case "index", "todos", "refactor":
		return nil, NewWorkflowError(
			"the "+action+" action requires source-code parsing this daemon does not perform",
			"run the external code-indexer integration for this action",
		)
	}

	return nil, NewInvalidActionError(action, understandActions)
}

// ImpactResult is the blast radius of changing an entity: every memory
// that mentions it directly, and every memory reachable from those by one
// relationship hop.
type ImpactResult struct {
	Entity          *store.Entity
	DirectMemories  []*store.Memory
	RelatedMemories []*store.Memory
}

func analyzeImpact(d *Deps, projectPath, entityName, entityType string) (*ImpactResult, error) {
	entity, err := d.Store.EntityByName(projectPath, entityType, entityName)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return &ImpactResult{}, nil
	}

	directIDs, err := d.Store.MemoryIDsForEntityID(entity.ID)
	if err != nil {
		return nil, err
	}
	direct, err := d.Store.GetMemories(directIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(directIDs))
	for _, id := range directIDs {
		seen[id] = true
	}

	var relatedIDs []string
	for _, id := range directIDs {
		edges, err := d.Store.QueryEdges(id, "both")
		if err != nil {
			continue
		}
		for _, e := range edges {
			other := e.TargetID
			if other == id {
				other = e.SourceID
			}
			if !seen[other] {
				seen[other] = true
				relatedIDs = append(relatedIDs, other)
			}
		}
	}
	related, err := d.Store.GetMemories(relatedIDs)
	if err != nil {
		return nil, err
	}

	return &ImpactResult{Entity: entity, DirectMemories: direct, RelatedMemories: related}, nil
}
