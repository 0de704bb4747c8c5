// Command neload is a diagnostic front end for the NE parser, loader,
// and relocation engine: it loads one or more 16-bit Windows NE
// modules, resolves their imports against each other, and prints a
// summary.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xyproto/ne16/internal/config"
	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/exports"
	"github.com/xyproto/ne16/internal/hotreload"
	"github.com/xyproto/ne16/internal/loader"
	"github.com/xyproto/ne16/internal/modtable"
	"github.com/xyproto/ne16/internal/neformat"
	"github.com/xyproto/ne16/internal/nlog"
	"github.com/xyproto/ne16/internal/parser"
	"github.com/xyproto/ne16/internal/reloc"
	"github.com/xyproto/ne16/internal/resolve"
	"github.com/xyproto/ne16/internal/stubtable"
)

const versionString = "neload 0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "neload:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version", "--version", "-V":
		fmt.Println(versionString)
		return nil
	case "load":
		return cmdLoad(args[1:])
	case "watch":
		return cmdWatch(args[1:])
	default:
		return cmdLoad(args)
	}
}

func printUsage() {
	fmt.Println(versionString)
	fmt.Println(`usage:
  neload load [-verbose] [-json] <module.exe> [dependency.dll ...]
  neload watch [-verbose] <module.exe>
  neload version
  neload help`)
}

func cmdLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "enable debug logging")
	jsonLog := fs.Bool("json", false, "emit structured JSON logs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("usage: neload load [-verbose] [-json] <module.exe> [dependency.dll ...]")
	}

	cfg := config.Default()
	cfg.Verbose = *verbose
	cfg.JSONLog = *jsonLog
	log := nlog.New(cfg)

	mt := modtable.New(cfg.MaxModules, cfg.MaxDeps, log)
	st := stubtable.New(cfg.MaxStubs)

	// Dependencies are listed after the primary module but must be
	// registered first so the primary module's imports have something
	// to resolve against.
	for i := len(paths) - 1; i >= 0; i-- {
		if err := loadOne(mt, st, paths[i], log); err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
	}

	fmt.Printf("loaded %d module(s), %d stub(s) pending\n", mt.Len(), st.Len())
	return nil
}

func loadOne(mt *modtable.Table, st *stubtable.Table, path string, log *slog.Logger) error {
	name := moduleName(path)
	if existing := mt.Find(name); existing != modtable.InvalidHandle {
		if err := mt.AddRef(existing); err != nil {
			return diagnose(err)
		}
		fmt.Printf("%s: already loaded as handle=%d (refcount incremented)\n", path, existing)
		return nil
	}

	pc, err := parser.ParseFile(path)
	if err != nil {
		return diagnose(err)
	}
	lc, err := loader.LoadSegments(pc, log)
	if err != nil {
		parser.Free(pc)
		return diagnose(err)
	}

	handle, et, err := registerAndResolve(mt, st, name, pc, lc, log)
	if err != nil {
		return diagnose(err)
	}

	fmt.Printf("%s: handle=%d %s\n", path, handle, lc.Describe())
	fmt.Printf("%s: %d export(s)\n", path, len(et.Entries))
	return nil
}

// registerAndResolve builds name's export table, registers it in mt,
// and resolves its imports. It always takes ownership of pc and lc:
// on any error they (and a built export table) have already been
// freed, or unwound via mt.Unload if registration had already
// succeeded, so callers never free them themselves.
func registerAndResolve(mt *modtable.Table, st *stubtable.Table, name string, pc *parser.Context, lc *loader.Context, log *slog.Logger) (uint16, *exports.Table, error) {
	entryBytes, err := pc.Bytes(pc.EntryTab)
	if err != nil {
		parser.Free(pc)
		loader.Free(lc)
		return modtable.InvalidHandle, nil, err
	}
	residentBytes, err := pc.Bytes(pc.ResidentTab)
	if err != nil {
		parser.Free(pc)
		loader.Free(lc)
		return modtable.InvalidHandle, nil, err
	}
	et, err := exports.Build(entryBytes, residentBytes)
	if err != nil {
		parser.Free(pc)
		loader.Free(lc)
		return modtable.InvalidHandle, nil, err
	}

	handle, err := mt.Load(name, pc, lc)
	if err != nil {
		parser.Free(pc)
		loader.Free(lc)
		exports.Free(et)
		return modtable.InvalidHandle, nil, err
	}
	if err := mt.SetExports(handle, et); err != nil {
		mt.Unload(handle)
		return modtable.InvalidHandle, nil, err
	}
	if err := resolveImports(mt, st, handle, pc, lc, log); err != nil {
		mt.Unload(handle)
		return modtable.InvalidHandle, nil, err
	}
	return handle, et, nil
}

// resolveImports decodes handle's module-reference and imported-names
// tables, builds an ImportResolver bound to it, and drives the
// relocation engine over every HAS_RELOC segment. Imports that
// resolve against an already-loaded module record a dependency edge;
// imports that don't are recorded in the stub table instead of
// failing the load.
func resolveImports(mt *modtable.Table, st *stubtable.Table, handle uint16, pc *parser.Context, lc *loader.Context, log *slog.Logger) error {
	moduleRefBytes, err := pc.Bytes(pc.ModuleRefTab)
	if err != nil {
		return err
	}
	moduleRefs, err := resolve.ModuleRefs(moduleRefBytes)
	if err != nil {
		return err
	}
	importedNames, err := pc.Bytes(pc.ImportedTab)
	if err != nil {
		return err
	}

	resolver := resolve.New(mt, st).For(handle, moduleRefs)

	for i, seg := range lc.Segments {
		if seg.Flags&neformat.SegFlagHasReloc == 0 {
			continue
		}
		records, err := reloc.ParseSegmentRelocations(pc.Image, seg.FileOffset, seg.DataLen)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if err := reloc.Apply(seg.Data, records, resolver, importedNames, log); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("usage: neload watch [-verbose] <module.exe>")
	}

	cfg := config.Default()
	cfg.Verbose = *verbose
	log := nlog.New(cfg)

	mt := modtable.New(cfg.MaxModules, cfg.MaxDeps, log)
	st := stubtable.New(cfg.MaxStubs)

	// A reload replaces a watched module's prior entry outright: unload
	// it first so the fresh one registers under the same name instead
	// of just bumping its refcount, then run it through the same
	// export-build and import-resolution pipeline loadOne does.
	w, err := hotreload.New(func(res hotreload.Result) {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: reload failed: %v\n", res.Path, res.Err)
			return
		}
		name := moduleName(res.Path)
		if existing := mt.Find(name); existing != modtable.InvalidHandle {
			if err := mt.Unload(existing); err != nil {
				fmt.Fprintf(os.Stderr, "%s: reload blocked: %v\n", res.Path, diagnose(err))
				parser.Free(res.Parser)
				loader.Free(res.Loader)
				return
			}
		}

		handle, et, err := registerAndResolve(mt, st, name, res.Parser, res.Loader, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", res.Path, diagnose(err))
			return
		}
		fmt.Printf("%s: reloaded, handle=%d, %s\n", res.Path, handle, res.Loader.Describe())
		fmt.Printf("%s: %d export(s), %d stub(s) pending\n", res.Path, len(et.Entries), st.Len())
	}, log)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, p := range paths {
		if err := w.AddFile(p); err != nil {
			return err
		}
	}
	w.Run()
	return nil
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// diagnose translates an *errs.Error into a textual diagnostic; the
// core packages never write to stdio themselves.
func diagnose(err error) error {
	if code, ok := errs.CodeOf(err); ok {
		return fmt.Errorf("%s (%s)", err, errs.Strerror(code))
	}
	return err
}
