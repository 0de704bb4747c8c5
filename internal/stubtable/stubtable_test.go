package stubtable

import (
	"testing"

	"github.com/xyproto/ne16/internal/errs"
)

// TestDedup verifies two consecutive
// Register calls with equal (module, ordinal) leave the table size
// unchanged after the second.
func TestDedup(t *testing.T) {
	tbl := New(4)
	if err := tbl.Register("KERNEL", "", 42, "stub", "m1"); err != nil {
		t.Fatalf("Register #1: %v", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
	if err := tbl.Register("KERNEL", "GetVersion", 42, "different behavior text", "m2"); err != nil {
		t.Fatalf("Register #2: %v", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() after duplicate register = %d, want 1", tbl.Len())
	}
}

// TestScenarioFStubThenReplace covers registering a stub and then
// replacing it once a real implementation becomes available.
func TestScenarioFStubThenReplace(t *testing.T) {
	tbl := New(4)
	if err := tbl.Register("KERNEL", "", 42, "unresolved at load time", "m1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := tbl.Replace("KERNEL", 42); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	e, ok := tbl.FindByOrdinal("KERNEL", 42)
	if !ok {
		t.Fatalf("FindByOrdinal did not find the entry after replace")
	}
	if !e.Removed {
		t.Errorf("entry Removed = false, want true after Replace")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (entry not physically deleted)", tbl.Len())
	}
}

func TestReplaceUnresolvedWhenMissing(t *testing.T) {
	tbl := New(4)
	err := tbl.Replace("KERNEL", 99)
	if code, ok := errs.CodeOf(err); !ok || code != errs.Unresolved {
		t.Fatalf("Replace on missing entry: err=%v, want Unresolved", err)
	}
}

func TestReplaceOnlyMatchesActiveEntry(t *testing.T) {
	tbl := New(4)
	if err := tbl.Register("KERNEL", "", 1, "b", "m"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := tbl.Replace("KERNEL", 1); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	err := tbl.Replace("KERNEL", 1)
	if code, ok := errs.CodeOf(err); !ok || code != errs.Unresolved {
		t.Fatalf("second Replace on already-removed entry: err=%v, want Unresolved", err)
	}
}

func TestFindByNameEmptyNeverMatches(t *testing.T) {
	tbl := New(4)
	if err := tbl.Register("KERNEL", "", 1, "b", "m"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := tbl.FindByName("KERNEL", ""); ok {
		t.Errorf("FindByName with empty api unexpectedly matched")
	}
}

func TestFull(t *testing.T) {
	tbl := New(1)
	if err := tbl.Register("A", "", 1, "b", "m"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := tbl.Register("B", "", 1, "b", "m")
	if code, ok := errs.CodeOf(err); !ok || code != errs.Full {
		t.Fatalf("Register beyond capacity: err=%v, want Full", err)
	}
}
