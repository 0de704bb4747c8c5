package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestStrerrorKnownAndUnknown(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{NullArg, "null argument"},
		{Unresolved, "unresolved import"},
		{InUse, "module in use"},
		{Code(9999), "unknown error"},
	}
	for _, tt := range tests {
		if got := Strerror(tt.code); got != tt.want {
			t.Errorf("Strerror(%v) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	e := New("modtable.Unload", InUse, "")
	if got, want := e.Error(), "modtable.Unload: module in use"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := fmt.Errorf("short read")
	e2 := Wrap("parser.ParseBuffer", IO, cause)
	if got, want := e2.Error(), "parser.ParseBuffer: io error: short read"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(e2, cause) {
		t.Errorf("expected errors.Is to see through Wrap")
	}
}

func TestCodeOf(t *testing.T) {
	err := New("loader.LoadSegments", Bounds, "segment 2 exceeds image")
	wrapped := fmt.Errorf("loading module: %w", err)

	code, ok := CodeOf(wrapped)
	if !ok || code != Bounds {
		t.Fatalf("CodeOf(wrapped) = (%v, %v), want (Bounds, true)", code, ok)
	}

	if _, ok := CodeOf(fmt.Errorf("plain")); ok {
		t.Errorf("CodeOf(plain) should report ok=false")
	}
}
