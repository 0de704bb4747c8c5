package modtable

import (
	"testing"

	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/loader"
	"github.com/xyproto/ne16/internal/parser"
	"github.com/xyproto/ne16/internal/testimage"
)

func mustContexts(t *testing.T) (*parser.Context, *loader.Context) {
	t.Helper()
	pc, err := parser.ParseBuffer(testimage.ScenarioA())
	if err != nil {
		t.Fatalf("ParseBuffer: %v", err)
	}
	lc, err := loader.LoadSegments(pc, nil)
	if err != nil {
		t.Fatalf("LoadSegments: %v", err)
	}
	return pc, lc
}

// TestRefCounting verifies loading the same
// name N times and unloading N times removes the entry exactly on the
// N-th unload.
func TestRefCounting(t *testing.T) {
	tbl := New(4, 4, nil)

	var handle uint16
	for i := 0; i < 3; i++ {
		pc, lc := mustContexts(t)
		h, err := tbl.Load("KERNEL", pc, lc)
		if err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
		if i == 0 {
			handle = h
		} else if h != handle {
			t.Fatalf("Load #%d returned handle %d, want %d (duplicate name)", i, h, handle)
		} else {
			// Duplicate-name load: caller retains ownership.
			parser.Free(pc)
			loader.Free(lc)
		}
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (one distinct module)", tbl.Len())
	}

	for i := 0; i < 2; i++ {
		if err := tbl.Unload(handle); err != nil {
			t.Fatalf("Unload #%d: %v", i, err)
		}
		if tbl.Get(handle) == nil {
			t.Fatalf("entry vanished after unload #%d, want it to survive until the 3rd", i)
		}
	}
	if err := tbl.Unload(handle); err != nil {
		t.Fatalf("final Unload: %v", err)
	}
	if tbl.Get(handle) != nil {
		t.Fatalf("entry still present after the 3rd unload")
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tbl.Len())
	}
}

// TestDependencyGuard verifies unload(B)
// fails with InUse while A depends on B, then succeeds once A unloads.
func TestDependencyGuard(t *testing.T) {
	tbl := New(4, 4, nil)

	pcA, lcA := mustContexts(t)
	hA, err := tbl.Load("APP", pcA, lcA)
	if err != nil {
		t.Fatalf("Load A: %v", err)
	}
	pcB, lcB := mustContexts(t)
	hB, err := tbl.Load("KERNEL", pcB, lcB)
	if err != nil {
		t.Fatalf("Load B: %v", err)
	}
	if err := tbl.AddDep(hA, hB); err != nil {
		t.Fatalf("AddDep: %v", err)
	}

	err = tbl.Unload(hB)
	if code, ok := errs.CodeOf(err); !ok || code != errs.InUse {
		t.Fatalf("Unload(B) while A depends on it: err=%v, want InUse", err)
	}

	if err := tbl.Unload(hA); err != nil {
		t.Fatalf("Unload(A): %v", err)
	}
	if err := tbl.Unload(hB); err != nil {
		t.Fatalf("Unload(B) after A is gone: %v", err)
	}
}

func TestAddDepDedupsAndCaps(t *testing.T) {
	tbl := New(4, 2, nil)
	pcA, lcA := mustContexts(t)
	hA, _ := tbl.Load("APP", pcA, lcA)
	pcB, lcB := mustContexts(t)
	hB, _ := tbl.Load("ONE", pcB, lcB)
	pcC, lcC := mustContexts(t)
	hC, _ := tbl.Load("TWO", pcC, lcC)
	pcD, lcD := mustContexts(t)
	hD, _ := tbl.Load("THREE", pcD, lcD)

	if err := tbl.AddDep(hA, hB); err != nil {
		t.Fatalf("AddDep 1: %v", err)
	}
	if err := tbl.AddDep(hA, hB); err != nil {
		t.Fatalf("AddDep duplicate: %v", err)
	}
	if got := len(tbl.Get(hA).Deps); got != 1 {
		t.Fatalf("Deps length after duplicate add = %d, want 1", got)
	}
	if err := tbl.AddDep(hA, hC); err != nil {
		t.Fatalf("AddDep 2: %v", err)
	}
	err := tbl.AddDep(hA, hD)
	if code, ok := errs.CodeOf(err); !ok || code != errs.Full {
		t.Fatalf("AddDep beyond capacity: err=%v, want Full", err)
	}
}

func TestLoadRejectsNilContexts(t *testing.T) {
	tbl := New(2, 2, nil)
	_, err := tbl.Load("X", nil, nil)
	if code, ok := errs.CodeOf(err); !ok || code != errs.NullArg {
		t.Fatalf("Load(nil, nil): err=%v, want NullArg", err)
	}
}

func TestTableFullReturnsInvalidHandle(t *testing.T) {
	tbl := New(1, 1, nil)
	pc1, lc1 := mustContexts(t)
	if _, err := tbl.Load("ONE", pc1, lc1); err != nil {
		t.Fatalf("Load ONE: %v", err)
	}
	pc2, lc2 := mustContexts(t)
	h, err := tbl.Load("TWO", pc2, lc2)
	if code, ok := errs.CodeOf(err); !ok || code != errs.Full {
		t.Fatalf("Load into full table: err=%v, want Full", err)
	}
	if h != InvalidHandle {
		t.Errorf("handle = %d, want InvalidHandle on failure", h)
	}
	parser.Free(pc2)
	loader.Free(lc2)
}

func TestFindCaseSensitive(t *testing.T) {
	tbl := New(2, 2, nil)
	pc, lc := mustContexts(t)
	h, err := tbl.Load("Kernel", pc, lc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tbl.Find("Kernel"); got != h {
		t.Errorf("Find(\"Kernel\") = %d, want %d", got, h)
	}
	if got := tbl.Find("KERNEL"); got != InvalidHandle {
		t.Errorf("Find(\"KERNEL\") = %d, want InvalidHandle (case-sensitive)", got)
	}
}

func TestHandlesNeverReused(t *testing.T) {
	tbl := New(2, 2, nil)
	pc1, lc1 := mustContexts(t)
	h1, _ := tbl.Load("ONE", pc1, lc1)
	if err := tbl.Unload(h1); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	pc2, lc2 := mustContexts(t)
	h2, _ := tbl.Load("TWO", pc2, lc2)
	if h2 == h1 {
		t.Errorf("handle %d reused after being freed", h2)
	}
}
