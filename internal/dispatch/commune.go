package dispatch

var communeActions = []string{"brief", "context_check", "health"}

// Commune is the session-entry workflow facade: getting briefed into a
// project, checking in with a plan before acting, and reading daemon
// health. No workflows/*.py source for this name was available; its
// action set mirrors phase.go's Briefing-phase tool visibility list
// (get_briefing, context_check, health).
func Commune(d *Deps, projectPath, action string, p params) (interface{}, error) {
	if !contains(communeActions, action) {
		return nil, NewInvalidActionError(action, communeActions)
	}
	if err := d.Gate(projectPath, "commune", action); err != nil {
		return nil, err
	}

	switch action {
	case "brief":
		if err := d.Session.Brief(projectPath); err != nil {
			return nil, err
		}
		phase := d.Phase.GetPhase(projectPath)
		rules, err := d.Memory.ListRules(projectPath, true, 0)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"phase": phase, "rules": rules}, nil

	case "context_check":
		topic, err := p.requireStr(action, "topic")
		if err != nil {
			return nil, err
		}
		if err := d.Session.ContextCheckIn(projectPath, topic); err != nil {
			return nil, err
		}
		return d.Memory.CheckRules(projectPath, topic)

	case "health":
		return healthReport(d, projectPath), nil
	}

	return nil, NewInvalidActionError(action, communeActions)
}

// HealthReport is the daemon's self-reported state for one project.
type HealthReport struct {
	Phase      string         `json:"phase"`
	Dreaming   bool           `json:"dreaming"`
	Stats      map[string]int64 `json:"stats,omitempty"`
	TaskCounts map[string]int `json:"task_counts"`
}

func healthReport(d *Deps, projectPath string) *HealthReport {
	report := &HealthReport{Phase: string(d.Phase.GetPhase(projectPath))}
	if dreamer, ok := d.Dreamers[projectPath]; ok && dreamer != nil {
		report.Dreaming = dreamer.IsDreaming()
	}
	if stats, err := d.Store.Stats(); err == nil {
		report.Stats = stats
	}
	report.TaskCounts = make(map[string]int)
	for _, status := range d.Tasks.ListTasks(projectPath) {
		report.TaskCounts[string(status.State)]++
	}
	return report
}
