package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestSetStatus_Validation(t *testing.T) {
	r := New()
	if _, err := r.SetStatus("", StatusWorking, ""); err == nil {
		t.Error("expected error for missing agentID")
	}
	if _, err := r.SetStatus("a1", "sleeping", ""); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestSetStatus_OverwriteWins(t *testing.T) {
	r := New()
	if _, err := r.SetStatus("a1", StatusWorking, "T1"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := r.SetStatus("a1", StatusBlocked, "T1"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	entry, ok := r.Get("a1")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Status != StatusBlocked {
		t.Errorf("Status = %q, want blocked", entry.Status)
	}
	if entry.Task != "T1" {
		t.Errorf("Task = %q", entry.Task)
	}
}

func TestReportProgress_Validation(t *testing.T) {
	r := New()
	if _, err := r.ReportProgress("", "T1", 10, ""); err == nil {
		t.Error("expected error for missing agentID")
	}
	if _, err := r.ReportProgress("a1", "", 10, ""); err == nil {
		t.Error("expected error for missing task")
	}
	if _, err := r.ReportProgress("a1", "T1", 101, ""); err == nil {
		t.Error("expected error for percent > 100")
	}
	if _, err := r.ReportProgress("a1", "T1", -1, ""); err == nil {
		t.Error("expected error for negative percent")
	}
}

func TestReportProgress_KeepsStatus(t *testing.T) {
	r := New()
	if _, err := r.SetStatus("a1", StatusBlocked, "T1"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := r.ReportProgress("a1", "T1", 40, "waiting on review"); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	entry, _ := r.Get("a1")
	if entry.Status != StatusBlocked {
		t.Errorf("Status = %q, want blocked preserved", entry.Status)
	}
	if entry.Percent != 40 {
		t.Errorf("Percent = %d", entry.Percent)
	}
}

func TestReportProgress_DefaultsToWorking(t *testing.T) {
	r := New()
	if _, err := r.ReportProgress("fresh", "T2", 5, ""); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	entry, _ := r.Get("fresh")
	if entry.Status != StatusWorking {
		t.Errorf("Status = %q, want working", entry.Status)
	}
}

func TestGet_Absent(t *testing.T) {
	r := New()
	if _, ok := r.Get("nobody"); ok {
		t.Error("Get should report absent for unknown agent")
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	r := New()
	r.SetStatus("charlie", StatusIdle, "")
	r.SetStatus("alice", StatusWorking, "T1")
	r.SetStatus("bob", StatusWorking, "T2")

	all := r.List("")
	if len(all) != 3 {
		t.Fatalf("List() = %d entries", len(all))
	}
	if all[0].AgentID != "alice" || all[1].AgentID != "bob" || all[2].AgentID != "charlie" {
		t.Errorf("order = %s, %s, %s", all[0].AgentID, all[1].AgentID, all[2].AgentID)
	}

	working := r.List(StatusWorking)
	if len(working) != 2 {
		t.Errorf("List(working) = %d entries", len(working))
	}
}

func TestConcurrentWriters(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			agent := fmt.Sprintf("agent-%d", n%4)
			r.SetStatus(agent, StatusWorking, fmt.Sprintf("T%d", n))
			r.ReportProgress(agent, "T", n%100, "")
			r.Get(agent)
			r.List("")
		}(i)
	}
	wg.Wait()
	if len(r.List("")) != 4 {
		t.Errorf("List() = %d entries, want 4", len(r.List("")))
	}
}
