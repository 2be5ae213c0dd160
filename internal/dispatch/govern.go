package dispatch

import "github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"

var governActions = []string{
	"add_rule", "update_rule", "list_rules",
	"add_trigger", "list_triggers", "remove_trigger",
}

// Govern is the rule- and context-trigger-management workflow facade,
// grounded on workflows/govern.py's dispatch().
func Govern(d *Deps, projectPath, action string, p params) (interface{}, error) {
	if !contains(governActions, action) {
		return nil, NewInvalidActionError(action, governActions)
	}
	if err := d.Gate(projectPath, "govern", action); err != nil {
		return nil, err
	}

	switch action {
	case "add_rule":
		trigger, err := p.requireStr(action, "trigger_phrase")
		if err != nil {
			return nil, err
		}
		return d.Memory.AddRule(memory.AddRuleRequest{
			Project:       projectPath,
			TriggerPhrase: trigger,
			MustDo:        p.strSlice("must_do"),
			MustNot:       p.strSlice("must_not"),
			AskFirst:      p.strSlice("ask_first"),
			Warnings:      p.strSlice("warnings"),
			Priority:      p.intVal("priority", 0),
		})

	case "update_rule":
		ruleID, err := p.requireStr(action, "rule_id")
		if err != nil {
			return nil, err
		}
		req := memory.UpdateRuleRequest{
			MustDo:   p.strSlice("must_do"),
			MustNot:  p.strSlice("must_not"),
			AskFirst: p.strSlice("ask_first"),
			Warnings: p.strSlice("warnings"),
		}
		if _, ok := p["priority"]; ok {
			priority := p.intVal("priority", 0)
			req.Priority = &priority
		}
		if _, ok := p["enabled"]; ok {
			enabled := p.boolVal("enabled", true)
			req.Enabled = &enabled
		}
		return d.Memory.UpdateRule(ruleID, req)

	case "list_rules":
		return d.Memory.ListRules(projectPath, p.boolVal("enabled_only", false), p.intVal("limit", 0))

	case "add_trigger":
		pattern, err := p.requireStr(action, "pattern")
		if err != nil {
			return nil, err
		}
		triggerType, err := p.requireStr(action, "trigger_type")
		if err != nil {
			return nil, err
		}
		return d.Memory.AddContextTrigger(memory.AddContextTriggerRequest{
			Project:        projectPath,
			TriggerType:    triggerType,
			Pattern:        pattern,
			RecallTopic:    p.str("recall_topic"),
			CategoryFilter: p.str("category_filter"),
			Priority:       p.intVal("priority", 0),
		})

	case "list_triggers":
		return d.Memory.ListContextTriggers(projectPath, p.boolVal("active_only", true))

	case "remove_trigger":
		triggerID, err := p.requireStr(action, "trigger_id")
		if err != nil {
			return nil, err
		}
		return nil, d.Memory.RemoveContextTrigger(triggerID)
	}

	return nil, NewInvalidActionError(action, governActions)
}
