package observability

import "testing"

func TestRunStageWindowSnapshot(t *testing.T) {
	w := NewRunStageWindow(8)
	w.Observe("kickoff", 200)
	w.Observe("kickoff", 400)
	w.Observe("kickoff", 600)
	w.ObserveIndicator("payment_simulated")
	w.ObserveIndicator("payment_simulated")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "kickoff" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "kickoff")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 600 {
		t.Fatalf("LastMS = %.2f, want 600", s.LastMS)
	}
	if s.P50MS != 400 {
		t.Fatalf("P50MS = %.2f, want 400", s.P50MS)
	}
	if s.P95MS <= 400 || s.P95MS > 600 {
		t.Fatalf("P95MS = %.2f, want (400,600]", s.P95MS)
	}
	if s.TargetP95MS != 800 {
		t.Fatalf("TargetP95MS = %.2f, want 800", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "payment_simulated" {
		t.Fatalf("Indicators[0].Name = %q", snap.Indicators[0].Name)
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want 2", snap.Indicators[0].Count)
	}
}

func TestRunStageWindowWraps(t *testing.T) {
	w := NewRunStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("execution", float64(i*100))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 4 {
		t.Fatalf("Samples = %+v, want window of 4", snap.Stages)
	}
	if snap.Stages[0].LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", snap.Stages[0].LastMS)
	}
}
