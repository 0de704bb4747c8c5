// Package parser turns an NE module byte image into typed views of
// its header and tables without copying table bodies. It walks the
// MZ stub, the single NE header, and the six variable-length tables
// it points to, retaining each as an (offset, size) view rather than
// a copy.
package parser

import (
	"bytes"
	"log/slog"
	"os"
	"strconv"

	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/neformat"
)

// TableRef is an (offset, size) view into the original image for one
// of the NE variable-length tables. It never copies; Bytes derives a
// sub-slice of the context's retained image.
type TableRef struct {
	Offset int
	Size   int
}

// Context is everything ParseBuffer produces: the decoded header, the
// segment descriptor array (copied, since the loader mutates nothing
// in place but wants a stable Go slice), and raw-table references
// into the retained image.
type Context struct {
	Image        []byte // retained; table references and segment descriptors read into this
	NEOffset     int
	Header       neformat.Header
	Segments     []neformat.SegmentDescriptor
	ResourceTab  TableRef
	ResidentTab  TableRef
	ModuleRefTab TableRef
	ImportedTab  TableRef
	EntryTab     TableRef
}

// freed marks a Context as released; Free is idempotent.
func (c *Context) freed() bool { return c.Image == nil }

// Bytes returns the bytes a TableRef names, bounds-checked against
// the context's retained image.
func (c *Context) Bytes(ref TableRef) ([]byte, error) {
	if ref.Offset < 0 || ref.Size < 0 || ref.Offset+ref.Size > len(c.Image) {
		return nil, errs.New("parser.Context.Bytes", errs.Bounds, "table reference out of range")
	}
	return c.Image[ref.Offset : ref.Offset+ref.Size], nil
}

// Free releases the context's owned copies and zeroes it so a
// double-free is a no-op.
func Free(c *Context) {
	if c == nil || c.freed() {
		return
	}
	*c = Context{}
}

// ParseBuffer decodes an in-memory NE image. It requires the MZ stub
// (a raw NE image with "NE" at offset 0 is never accepted here, only
// by Validate). On any error the returned context is the zero value.
func ParseBuffer(buf []byte) (*Context, error) {
	const op = "parser.ParseBuffer"
	if buf == nil {
		return nil, errs.New(op, errs.NullArg, "nil image")
	}
	if len(buf) < neformat.MZHeaderSize {
		return nil, errs.New(op, errs.NotMZ, "image shorter than the MZ stub")
	}
	if buf[0] != 'M' || buf[1] != 'Z' {
		return nil, errs.New(op, errs.NotMZ, "missing MZ signature at offset 0")
	}

	neOff, err := neformat.ReadUint32LE(buf, neformat.NEMagicOffset)
	if err != nil {
		return nil, errs.Wrap(op, errs.BadOffset, err)
	}
	neOffset := int(neOff)
	if neOffset < 0 || neOffset+neformat.NEHeaderSize > len(buf) {
		return nil, errs.New(op, errs.BadOffset, "NE header offset out of range")
	}
	if buf[neOffset] == 'N' && buf[neOffset+1] == 'E' && neOffset == 0 {
		// An MZ stub occupies bytes 0-1 as "MZ"; ne_offset can never
		// legitimately be 0 since that would overlap the MZ magic
		// itself (0x4D5A vs 0x4E45 cannot coexist at the same two
		// bytes). Reject defensively.
		return nil, errs.New(op, errs.BadHeader, "NE header offset overlaps the MZ stub")
	}
	if buf[neOffset] != 'N' || buf[neOffset+1] != 'E' {
		return nil, errs.New(op, errs.NotNE, "missing NE signature at computed offset")
	}

	hdr, err := neformat.DecodeHeader(buf[neOffset:])
	if err != nil {
		return nil, errs.Wrap(op, errs.BadHeader, err)
	}

	segBuf, err := sliceTable(buf, neOffset, int(hdr.SegmentTableOff), int(hdr.SegmentCount)*neformat.SegmentDescSize)
	if err != nil {
		return nil, errs.Wrap(op, errs.BadOffset, err)
	}
	segs, err := neformat.DecodeSegmentDescriptors(segBuf, int(hdr.SegmentCount))
	if err != nil {
		return nil, errs.Wrap(op, errs.BadFormat, err)
	}

	ctx := &Context{
		Image:    buf,
		NEOffset: neOffset,
		Header:   hdr,
		Segments: segs,
	}

	// Resource, resident-name, and imported-names tables are all
	// variable-length and their sizes aren't given directly by the
	// header; we retain them as (offset, size) references sized to run
	// to the end of the image conservatively, and let each consumer
	// (export builder, reloc engine) bounds-check its own walk, so the
	// parser itself never needs to understand each table's internal
	// grammar. The module-ref table is the exception: each entry is a
	// fixed 2-byte word, so its length is ModuleRefCount*2 and is
	// checked up front like the entry table.
	ctx.ResourceTab, err = tableRefTo(buf, neOffset, int(hdr.ResourceTableOff))
	if err != nil {
		return nil, errs.Wrap(op, errs.BadOffset, err)
	}
	ctx.ResidentTab, err = tableRefTo(buf, neOffset, int(hdr.ResidentNameOff))
	if err != nil {
		return nil, errs.Wrap(op, errs.BadOffset, err)
	}
	ctx.ModuleRefTab, err = tableRefSized(buf, neOffset, int(hdr.ModuleRefTableOff), int(hdr.ModuleRefCount)*2)
	if err != nil {
		return nil, errs.Wrap(op, errs.BadOffset, err)
	}
	ctx.ImportedTab, err = tableRefTo(buf, neOffset, int(hdr.ImportedNamesOff))
	if err != nil {
		return nil, errs.Wrap(op, errs.BadOffset, err)
	}
	ctx.EntryTab, err = tableRefSized(buf, neOffset, int(hdr.EntryTableOffset), int(hdr.EntryTableLength))
	if err != nil {
		return nil, errs.Wrap(op, errs.BadOffset, err)
	}

	return ctx, nil
}

// ParseFile reads path in full and calls ParseBuffer on its contents.
func ParseFile(path string) (*Context, error) {
	const op = "parser.ParseFile"
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(op, errs.IO, err)
	}
	return ParseBuffer(buf)
}

// Validate accepts a raw NE image (magic "NE" at offset 0, no MZ
// stub) in addition to everything ParseBuffer accepts. It is never
// used by the core loader path; it exists for callers that
// intentionally want that relaxed acceptance (e.g. a test harness
// feeding raw NE bodies extracted from some other container).
func Validate(buf []byte) (*Context, error) {
	const op = "parser.Validate"
	if len(buf) >= 2 && buf[0] == 'N' && buf[1] == 'E' {
		hdr, err := neformat.DecodeHeader(buf)
		if err != nil {
			return nil, errs.Wrap(op, errs.BadHeader, err)
		}
		segBuf, err := sliceTable(buf, 0, int(hdr.SegmentTableOff), int(hdr.SegmentCount)*neformat.SegmentDescSize)
		if err != nil {
			return nil, errs.Wrap(op, errs.BadOffset, err)
		}
		segs, err := neformat.DecodeSegmentDescriptors(segBuf, int(hdr.SegmentCount))
		if err != nil {
			return nil, errs.Wrap(op, errs.BadFormat, err)
		}
		return &Context{Image: buf, NEOffset: 0, Header: hdr, Segments: segs}, nil
	}
	return ParseBuffer(buf)
}

// Describe renders a human-readable summary of the parsed module for
// explicit, caller-invoked stdio output.
func (c *Context) Describe() string {
	if c == nil || c.freed() {
		return "<freed parser context>"
	}
	var b bytes.Buffer
	b.WriteString("NE module:\n")
	b.WriteString("  segments: ")
	b.WriteString(strconv.Itoa(len(c.Segments)))
	b.WriteString("\n  module refs: ")
	b.WriteString(strconv.Itoa(int(c.Header.ModuleRefCount)))
	b.WriteString("\n  align shift: ")
	b.WriteString(strconv.Itoa(int(c.Header.AlignShift)))
	b.WriteString("\n")
	return b.String()
}

// Trace emits a debug-level structured log line per table, for
// diagnosing malformed third-party images without resorting to stdio.
func (c *Context) Trace(log *slog.Logger) {
	if log == nil || c == nil || c.freed() {
		return
	}
	log.Debug("parsed NE module",
		"ne_offset", c.NEOffset,
		"segments", len(c.Segments),
		"module_refs", c.Header.ModuleRefCount,
		"entry_table_len", c.Header.EntryTableLength,
		"align_shift", c.Header.AlignShift,
	)
}

// sliceTable validates and returns the byte range
// [neOffset+tableOffset, neOffset+tableOffset+size) of buf.
func sliceTable(buf []byte, neOffset, tableOffset, size int) ([]byte, error) {
	start := neOffset + tableOffset
	if tableOffset < 0 || size < 0 || start < 0 || start+size > len(buf) {
		return nil, errs.New("parser.sliceTable", errs.BadOffset, "table range out of bounds")
	}
	return buf[start : start+size], nil
}

// tableRefTo builds a TableRef running from neOffset+tableOffset to
// the end of the image; used for tables whose length the NE header
// doesn't state directly.
func tableRefTo(buf []byte, neOffset, tableOffset int) (TableRef, error) {
	start := neOffset + tableOffset
	if tableOffset < 0 || start < 0 || start > len(buf) {
		return TableRef{}, errs.New("parser.tableRefTo", errs.BadOffset, "table offset out of bounds")
	}
	return TableRef{Offset: start, Size: len(buf) - start}, nil
}

// tableRefSized builds a TableRef of an explicit size.
func tableRefSized(buf []byte, neOffset, tableOffset, size int) (TableRef, error) {
	start := neOffset + tableOffset
	if tableOffset < 0 || size < 0 || start < 0 || start+size > len(buf) {
		return TableRef{}, errs.New("parser.tableRefSized", errs.BadOffset, "table range out of bounds")
	}
	return TableRef{Offset: start, Size: size}, nil
}
