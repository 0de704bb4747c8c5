// Package loader lays out an NE module's segments in memory: one
// zero-filled buffer per segment, the low data-length bytes copied
// from the file image, entry-point bounds validated against the
// loaded set.
package loader

import (
	"log/slog"
	"strconv"

	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/neformat"
	"github.com/xyproto/ne16/internal/parser"
)

// Segment is one loaded segment: a buffer at least as large as its
// minimum allocation, the low DataLen bytes copied from the file
// image and the remainder zero-filled.
type Segment struct {
	Data       []byte // len(Data) == AllocSize
	AllocSize  int
	DataLen    int
	FileOffset int // 0 if this segment had no file-backed data
	Flags      uint16
}

// Context owns every segment buffer produced for one module.
type Context struct {
	Segments []Segment
}

func (c *Context) freed() bool { return c.Segments == nil }

// Free releases every segment buffer and zeroes the context; freeing
// a zeroed or nil context is a no-op.
func Free(c *Context) {
	if c == nil || c.freed() {
		return
	}
	*c = Context{}
}

// LoadSegments lays out every segment described by pc (a parsed NE
// context), then validates the entry point. On any error all segment
// buffers allocated so far are discarded and the zero Context is
// returned, rolling back the partial construction.
func LoadSegments(pc *parser.Context, log *slog.Logger) (*Context, error) {
	const op = "loader.LoadSegments"
	if pc == nil {
		return nil, errs.New(op, errs.NullArg, "nil parser context")
	}

	segs := make([]Segment, 0, len(pc.Segments))
	for i, d := range pc.Segments {
		seg, err := loadOne(pc.Image, pc.Header.AlignShift, d)
		if err != nil {
			// Roll back: nothing extra to release since Go slices are
			// garbage collected, but the partially built context must
			// not be handed back.
			return nil, errs.Wrap(op, errs.IO, err)
		}
		segs = append(segs, seg)
		if log != nil {
			log.Debug("loaded segment", "index", i, "alloc", seg.AllocSize, "data_len", seg.DataLen, "file_offset", seg.FileOffset)
		}
	}

	if err := validateEntryPoint(pc.Header, segs); err != nil {
		return nil, err
	}

	return &Context{Segments: segs}, nil
}

func loadOne(image []byte, alignShift uint16, d neformat.SegmentDescriptor) (Segment, error) {
	dataLen := d.EffectiveLength()
	minAlloc := d.EffectiveMinAlloc()
	alloc := dataLen
	if minAlloc > alloc {
		alloc = minAlloc
	}

	buf := make([]byte, alloc) // zero-filled by Go's allocator

	fileOffset := d.FileOffset(alignShift)
	copied := 0
	if fileOffset != 0 {
		if fileOffset+dataLen > len(image) {
			return Segment{}, errs.New("loader.loadOne", errs.Bounds, "segment file data exceeds image length")
		}
		copy(buf, image[fileOffset:fileOffset+dataLen])
		copied = dataLen
	}

	return Segment{
		Data:       buf,
		AllocSize:  alloc,
		DataLen:    copied,
		FileOffset: fileOffset,
		Flags:      d.Flags,
	}, nil
}

// validateEntryPoint checks the entry-point rule: InitialCS == 0
// means no entry point (a DLL) and is always valid; otherwise
// (InitialCS-1) must index a loaded segment and InitialIP must be
// strictly less than that segment's allocation size.
func validateEntryPoint(h neformat.Header, segs []Segment) error {
	const op = "loader.validateEntryPoint"
	if h.InitialCS == 0 {
		return nil
	}
	idx := int(h.InitialCS) - 1
	if idx < 0 || idx >= len(segs) {
		return errs.New(op, errs.Bounds, "initial CS does not index a loaded segment")
	}
	if int(h.InitialIP) >= segs[idx].AllocSize {
		return errs.New(op, errs.Bounds, "initial IP exceeds entry segment's allocation size")
	}
	return nil
}

// Describe renders a short human-readable summary for explicit,
// caller-invoked stdio output.
func (c *Context) Describe() string {
	if c == nil || c.freed() {
		return "<freed loader context>"
	}
	total := 0
	for _, s := range c.Segments {
		total += s.AllocSize
	}
	return "loaded segments: " + strconv.Itoa(len(c.Segments)) + ", total bytes: " + strconv.Itoa(total)
}
