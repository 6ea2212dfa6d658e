package ledger

import (
	"errors"
	"path/filepath"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RunLifecycle(t *testing.T) {
	store := newStore(t)

	run := Run{ID: "run-1", InputKey: "/in/a.csv", OutputPath: "/out/a.csv", Total: 120}
	if err := store.StartRun(run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.Total != 120 || got.InputKey != "/in/a.csv" {
		t.Errorf("run = %+v", got)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be nil while running")
	}

	if err := store.FinishRun("run-1", RunComplete); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunComplete || got.FinishedAt == nil {
		t.Errorf("after finish: status %q, finished %v", got.Status, got.FinishedAt)
	}
}

func TestStore_UnknownRun(t *testing.T) {
	store := newStore(t)

	if _, err := store.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun err = %v, want ErrRunNotFound", err)
	}
	if err := store.FinishRun("missing", RunFailed); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun err = %v, want ErrRunNotFound", err)
	}
}

func TestStore_FlushedRanges(t *testing.T) {
	store := newStore(t)

	marks := []BatchMark{
		{InputKey: "a", BatchID: 2, RunID: "r1", FirstIndex: 11, LastIndex: 20, Records: 10, Failures: 3},
		{InputKey: "a", BatchID: 1, RunID: "r1", FirstIndex: 1, LastIndex: 10, Records: 10},
		{InputKey: "b", BatchID: 1, RunID: "r2", FirstIndex: 1, LastIndex: 5, Records: 5},
	}
	for _, m := range marks {
		if err := store.MarkBatch(m); err != nil {
			t.Fatal(err)
		}
	}
	// same start index replaces instead of failing
	if err := store.MarkBatch(BatchMark{InputKey: "a", BatchID: 7, RunID: "r3", FirstIndex: 1, LastIndex: 10, Records: 10}); err != nil {
		t.Fatal(err)
	}

	ranges, err := store.FlushedRanges("a")
	if err != nil {
		t.Fatal(err)
	}
	want := []Range{{First: 1, Last: 10}, {First: 11, Last: 20}}
	if len(ranges) != len(want) || ranges[0] != want[0] || ranges[1] != want[1] {
		t.Errorf("FlushedRanges(a) = %v, want %v", ranges, want)
	}

	if err := store.ResetInput("a"); err != nil {
		t.Fatal(err)
	}
	ranges, _ = store.FlushedRanges("a")
	if len(ranges) != 0 {
		t.Errorf("after reset = %v, want empty", ranges)
	}
	ranges, _ = store.FlushedRanges("b")
	if len(ranges) != 1 {
		t.Errorf("FlushedRanges(b) = %v, want one range", ranges)
	}
}

func TestRange_Contains(t *testing.T) {
	r := Range{First: 3, Last: 5}
	for i, want := range map[int]bool{2: false, 3: true, 5: true, 6: false} {
		if got := r.Contains(i); got != want {
			t.Errorf("Contains(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestStore_ListRuns(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := store.StartRun(Run{ID: id, InputKey: "in", OutputPath: "out"}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("ListRuns(2) = %d runs, want 2", len(runs))
	}
}
