package dispatch

import (
	"context"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/graph"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
)

var consultActions = []string{
	"preflight", "recall", "recall_file", "recall_entity",
	"recall_hierarchical", "search", "check_rules", "compress",
}

// Consult is the read-side workflow facade: preflighting a plan, the
// various recall shapes, rule checking, and context compression --
// grounded on workflows/consult.py's dispatch().
func Consult(ctx context.Context, d *Deps, sessionID, projectPath, action string, p params) (interface{}, error) {
	if !contains(consultActions, action) {
		return nil, NewInvalidActionError(action, consultActions)
	}
	if err := d.Gate(projectPath, "consult", action); err != nil {
		return nil, err
	}

	switch action {
	case "preflight":
		topic, err := p.requireStr(action, "topic")
		if err != nil {
			return nil, err
		}
		if err := d.Session.ContextCheckIn(projectPath, topic); err != nil {
			return nil, err
		}
		guidance, err := d.Memory.CheckRules(projectPath, topic)
		if err != nil {
			return nil, err
		}
		recalled, err := d.Memory.Recall(ctx, memory.RecallRequest{Project: projectPath, Topic: topic, SessionID: sessionID, Limit: p.intVal("limit", 10)})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"guidance": guidance, "recall": recalled}, nil

	case "recall":
		topic, err := p.requireStr(action, "topic")
		if err != nil {
			return nil, err
		}
		return d.Memory.Recall(ctx, memory.RecallRequest{
			Project:       projectPath,
			Topic:         topic,
			Categories:    p.strSlice("categories"),
			Tags:          p.strSlice("tags"),
			FilePath:      p.str("file_path"),
			Offset:        p.intVal("offset", 0),
			Limit:         p.intVal("limit", 10),
			Since:         p.timePtr("since"),
			Until:         p.timePtr("until"),
			IncludeLinked: p.boolVal("include_linked", false),
			SessionID:     sessionID,
		})

	case "recall_file":
		filePath, err := p.requireStr(action, "file_path")
		if err != nil {
			return nil, err
		}
		return d.Memory.RecallForFile(projectPath, filePath, p.intVal("limit", 10))

	case "recall_entity":
		entity, err := p.requireStr(action, "entity_name")
		if err != nil {
			return nil, err
		}
		return d.Memory.RecallByEntity(projectPath, entity, p.str("entity_type"))

	case "recall_hierarchical":
		topic, err := p.requireStr(action, "topic")
		if err != nil {
			return nil, err
		}
		return d.Memory.RecallHierarchical(projectPath, topic, p.boolVal("include_members", false), p.intVal("limit", 10))

	case "search":
		query, err := p.requireStr(action, "query")
		if err != nil {
			return nil, err
		}
		hits, err := d.Store.SearchFTS(query, p.intVal("limit", 10), "[", "]")
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.MemoryID)
		}
		mems, err := d.Store.GetMemories(ids)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"hits": hits, "memories": mems}, nil

	case "check_rules":
		actionDesc, err := p.requireStr(action, "action")
		if err != nil {
			return nil, err
		}
		return d.Memory.CheckRules(projectPath, actionDesc)

	case "compress":
		topic, err := p.requireStr(action, "topic")
		if err != nil {
			return nil, err
		}
		recalled, err := d.Memory.Recall(ctx, memory.RecallRequest{Project: projectPath, Topic: topic, Limit: p.intVal("limit", 20)})
		if err != nil {
			return nil, err
		}
		return compressRecall(recalled, topic), nil
	}

	return nil, NewInvalidActionError(action, consultActions)
}

func compressRecall(r *memory.RecallResult, topic string) string {
	var members []graph.MemberMemory
	for _, bucket := range r.ByCategory {
		for _, m := range bucket {
			members = append(members, graph.MemberMemory{ID: m.ID, Category: m.Category, Content: m.Content})
		}
	}
	return graph.Summarize(context.Background(), graph.DefaultSummaryConfig(), topic, members, nil, nil)
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
