// Package errs defines the error taxonomy shared by every core
// component of the NE loader: the parser, the segment loader, the
// relocation engine, the export builder, the module table, and the
// stub table. Every public operation in those packages returns either
// nil or an *errs.Error so callers can switch on Code without string
// matching.
package errs

import "fmt"

// Code enumerates the error kinds a core operation can fail with.
// Zero is reserved so the zero value of Error is never mistaken for
// success.
type Code int

const (
	// Null or missing argument, checked before any work is done.
	NullArg Code = iota + 1
	// Heap exhausted or a slice/buffer could not be allocated.
	Alloc
	// Underlying file or stream could not be read.
	IO
	// A computed offset or length would step outside an image or buffer.
	Bounds
	// Image does not start with the MZ stub signature.
	NotMZ
	// No "NE" signature at the expected header offset.
	NotNE
	// A table offset/length pair falls outside the image.
	BadOffset
	// The NE header itself is malformed (bad field, ambiguous magic).
	BadHeader
	// A segment, bundle, or relocation record is malformed.
	BadFormat
	// A fixed-size table (module table, stub table, dependency list) is full.
	Full
	// An import could not be found in any loaded module's export table.
	Unresolved
	// Attempt to unload a module other modules still depend on.
	InUse
	// A handle does not name a live entry.
	BadHandle
	// A 1-based segment number is zero or out of range.
	BadSeg
	// An enumerant (address type, reloc type) is outside the supported set.
	BadFunction
)

var names = map[Code]string{
	NullArg:     "null argument",
	Alloc:       "allocation failure",
	IO:          "io error",
	Bounds:      "out of bounds",
	NotMZ:       "missing MZ signature",
	NotNE:       "missing NE signature",
	BadOffset:   "table offset out of range",
	BadHeader:   "malformed NE header",
	BadFormat:   "malformed record",
	Full:        "table full",
	Unresolved:  "unresolved import",
	InUse:       "module in use",
	BadHandle:   "bad handle",
	BadSeg:      "bad segment",
	BadFunction: "bad function or address type",
}

// Strerror maps a code to a stable, static description.
func Strerror(c Code) string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown error"
}

// Error is the concrete error type returned by every core operation.
// Op names the operation that failed (e.g. "parser.ParseBuffer"); Msg
// adds detail beyond the code's static description; Err, when set, is
// the underlying cause (wrapped, so errors.Is/As see through it).
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	detail := Strerror(e.Code)
	if e.Msg != "" {
		detail = e.Msg
	}
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, detail, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, detail)
	}
	return detail
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// CodeOf extracts the Code from err if it (or something it wraps) is
// an *Error, returning ok=false otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	for err != nil {
		if ce, isErr := err.(*Error); isErr {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Code, true
}
