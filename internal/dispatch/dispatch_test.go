package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/bm25"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/config"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/covenant"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/phase"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/retrieval"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/tasks"
)

func openTestDeps(t *testing.T) *Deps {
	t.Helper()
	s, err := store.Open(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	engine := retrieval.NewEngine(s, nil, nil, config.DefaultConfig().RRF, bm25.DefaultConfig())
	mgr := memory.NewManager(s, engine)
	session := covenant.NewStoreBackend(s, "hour")
	mw := covenant.New(session.GetState, 0)
	taskMgr := tasks.New(0, 100, time.Hour, nil)
	t.Cleanup(taskMgr.Close)

	return &Deps{
		Memory:   mgr,
		Covenant: mw,
		Session:  session,
		Phase:    phase.New(),
		Store:    s,
		Tasks:    taskMgr,
	}
}

func briefAndCheck(t *testing.T, d *Deps, project, topic string) {
	t.Helper()
	if _, err := Dispatch(context.Background(), d, "sess1", project, "commune", "brief", nil); err != nil {
		t.Fatalf("brief failed: %v", err)
	}
	if _, err := Dispatch(context.Background(), d, "sess1", project, "commune", "context_check", map[string]interface{}{"topic": topic}); err != nil {
		t.Fatalf("context_check failed: %v", err)
	}
}

// forceActionPhase drives the phase tracker directly into Action, the same
// way a real session reaches it (a remember/add_rule/execute call), without
// the chicken-and-egg problem of that first call needing Action's own
// visibility to be allowed. OnToolCalled is a pure state transition with no
// visibility check of its own -- CheckToolVisible is a separate query --
// so this is exercising the tracker's real public contract, not bypassing
// it.
func forceActionPhase(d *Deps, project string) {
	d.Phase.OnToolCalled(project, "remember")
}
