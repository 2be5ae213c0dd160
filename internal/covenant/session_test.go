package covenant

import (
	"testing"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreBackend_BriefThenContextCheckSatisfiesBothGates(t *testing.T) {
	s := openTestStore(t)
	backend := NewStoreBackend(s, "hour")
	mw := New(backend.GetState, DefaultCounselTTL)

	if v := mw.CheckToolAccess("remember", "proj"); v == nil || v.Violation != "COMMUNION_REQUIRED" {
		t.Fatalf("expected COMMUNION_REQUIRED before briefing, got %+v", v)
	}

	if err := backend.Brief("proj"); err != nil {
		t.Fatalf("Brief failed: %v", err)
	}
	if v := mw.CheckToolAccess("remember", "proj"); v == nil || v.Violation != "COUNSEL_REQUIRED" {
		t.Fatalf("expected COUNSEL_REQUIRED after briefing but before counsel, got %+v", v)
	}

	if err := backend.ContextCheckIn("proj", "about to remember something"); err != nil {
		t.Fatalf("ContextCheckIn failed: %v", err)
	}
	if v := mw.CheckToolAccess("remember", "proj"); v != nil {
		t.Errorf("expected remember to be allowed after briefing and counsel, got %+v", v)
	}

	if v := mw.CheckToolAccess("record_outcome", "proj"); v != nil {
		t.Errorf("expected record_outcome to be allowed after briefing alone, got %+v", v)
	}
}

func TestSessionIDFor_DayBucketIgnoresHour(t *testing.T) {
	a := SessionIDFor("proj", "day")
	b := SessionIDFor("proj", "day")
	if a != b {
		t.Errorf("expected stable session id within the same day, got %q vs %q", a, b)
	}
}
