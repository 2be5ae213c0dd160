package dispatch

var maintainActions = []string{"list_tasks", "task_status", "cancel_task", "stats"}

// Maintain is the background-task and daemon-health workflow facade. No
// workflows/*.py source for this name was available; its shape is drawn
// from background.py's BackgroundTaskManager surface (get_status,
// list_tasks) already grounding internal/tasks, plus a project stats
// action over the relational store.
func Maintain(d *Deps, projectPath, action string, p params) (interface{}, error) {
	if !contains(maintainActions, action) {
		return nil, NewInvalidActionError(action, maintainActions)
	}
	if err := d.Gate(projectPath, "maintain", action); err != nil {
		return nil, err
	}

	switch action {
	case "list_tasks":
		return d.Tasks.ListTasks(projectPath), nil

	case "task_status":
		taskID, err := p.requireStr(action, "task_id")
		if err != nil {
			return nil, err
		}
		status := d.Tasks.GetStatus(taskID)
		if status != nil {
			return status, nil
		}
		// Aged out of the in-memory map; fall back to the durable row so a
		// caller that polled late still gets a terminal-state answer.
		row, err := d.Tasks.Persisted(taskID)
		if err != nil {
			return nil, NewWorkflowError("unknown task: "+taskID, "call list_tasks to see currently tracked tasks")
		}
		if row == nil {
			return nil, NewWorkflowError("unknown task: "+taskID, "call list_tasks to see currently tracked tasks")
		}
		return row, nil

	case "cancel_task":
		taskID, err := p.requireStr(action, "task_id")
		if err != nil {
			return nil, err
		}
		if !d.Tasks.Cancel(taskID) {
			return nil, NewWorkflowError("unknown task: "+taskID, "call list_tasks to see currently tracked tasks")
		}
		return nil, nil

	case "stats":
		return d.Store.Stats()
	}

	return nil, NewInvalidActionError(action, maintainActions)
}
