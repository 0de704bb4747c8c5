// Package hotreload watches NE image files on disk and re-runs the
// parse/load pipeline when one changes. Each platform-specific
// watcher debounces its underlying filesystem events behind a
// per-path timer and reports a typed reload result rather than a
// bare path.
package hotreload

import (
	"log/slog"
	"os"

	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/loader"
	"github.com/xyproto/ne16/internal/parser"
)

// Result is delivered to a ReloadFunc after a watched file changes and
// has been re-parsed and re-loaded. Err is non-nil if reading,
// parsing, or loading failed; Parser/Loader are nil in that case.
type Result struct {
	Path   string
	Parser *parser.Context
	Loader *loader.Context
	Err    error
}

// ReloadFunc receives one Result per debounced file-change event. It
// owns Parser/Loader on success and is responsible for freeing them.
type ReloadFunc func(Result)

// reload reads path, parses it, and loads its segments, producing one
// Result. Shared by every platform-specific watcher so the decoding
// pipeline itself stays platform-independent.
func reload(path string, log *slog.Logger) Result {
	const op = "hotreload.reload"
	buf, err := os.ReadFile(path)
	if err != nil {
		return Result{Path: path, Err: errs.Wrap(op, errs.IO, err)}
	}
	pc, err := parser.ParseBuffer(buf)
	if err != nil {
		return Result{Path: path, Err: err}
	}
	lc, err := loader.LoadSegments(pc, log)
	if err != nil {
		parser.Free(pc)
		return Result{Path: path, Err: err}
	}
	return Result{Path: path, Parser: pc, Loader: lc}
}
