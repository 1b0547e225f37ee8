package sim

import (
	"fmt"
	"testing"
)

// === Audit Log Tests ===

func TestAuditLog_AppendAndEntries(t *testing.T) {
	l := NewAuditLog()

	l.Append(AuditEntry{Tick: 1, Action: "inject_failure", Result: "ok", Source: SourceAPI})
	l.Append(AuditEntry{Tick: 2, Action: "adjust_cooling", Result: "invalid_argument", Source: SourceAgent})

	all := l.Entries(0)
	if len(all) != 2 {
		t.Fatalf("entries = %d, want 2", len(all))
	}
	if all[0].Action != "inject_failure" || all[1].Action != "adjust_cooling" {
		t.Errorf("entries out of append order: %v then %v", all[0].Action, all[1].Action)
	}
	if all[1].Result != "invalid_argument" || all[1].Source != SourceAgent {
		t.Errorf("entry fields lost: %+v", all[1])
	}
}

func TestAuditLog_EntriesWindow(t *testing.T) {
	l := NewAuditLog()
	for i := 0; i < 10; i++ {
		l.Append(AuditEntry{Tick: i, Action: fmt.Sprintf("a%d", i), Result: "ok", Source: SourceSystem})
	}

	got := l.Entries(3)
	if len(got) != 3 {
		t.Fatalf("window = %d, want 3", len(got))
	}
	if got[0].Tick != 7 || got[2].Tick != 9 {
		t.Errorf("window ticks = %d..%d, want 7..9", got[0].Tick, got[2].Tick)
	}
}

func TestAuditLog_RetentionEvictsOldest(t *testing.T) {
	l := NewAuditLog()
	for i := 0; i < auditRetention+25; i++ {
		l.Append(AuditEntry{Tick: i, Action: "step", Result: "ok", Source: SourceScheduler})
	}

	if l.Len() != auditRetention {
		t.Fatalf("Len = %d, want %d", l.Len(), auditRetention)
	}
	all := l.Entries(0)
	if all[0].Tick != 25 {
		t.Errorf("oldest retained tick = %d, want 25", all[0].Tick)
	}
}

func TestAuditLog_Reset(t *testing.T) {
	l := NewAuditLog()
	l.Append(AuditEntry{Tick: 1, Action: "pause", Result: "ok", Source: SourceAPI})

	l.Reset()

	if l.Len() != 0 || len(l.Entries(0)) != 0 {
		t.Errorf("log not empty after Reset: len %d", l.Len())
	}
}
