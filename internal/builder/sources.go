package builder

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Dialect is the backend a source file must be translated by.
type Dialect int

const (
	CXX Dialect = iota
	C
	MacroAssembly
	NativeAssembly
)

func (d Dialect) String() string {
	switch d {
	case CXX:
		return "C++"
	case C:
		return "C"
	case MacroAssembly:
		return "macro assembly"
	case NativeAssembly:
		return "native assembly"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// Classify maps a path to its dialect by suffix. Matching is case-sensitive
// and every path classifies to exactly one dialect.
func Classify(path string) Dialect {
	switch {
	case strings.HasSuffix(path, ".c"):
		return C
	case strings.HasSuffix(path, ".asm"):
		return MacroAssembly
	case strings.HasSuffix(path, ".S"), strings.HasSuffix(path, ".s"):
		return NativeAssembly
	default:
		return CXX
	}
}

// SourceFile is a path relative to the package directory and its dialect.
type SourceFile struct {
	Path    string
	Dialect Dialect
}

// SourceSet is everything the compile steps need from the source tree.
type SourceSet struct {
	Sources     []SourceFile
	Includes    []string
	AsmIncludes []string
	// Links are libraries of dependencies resolved to system.
	Links []string
}

// ByDialect returns the sources of one dialect, in assembly order.
func (s SourceSet) ByDialect(d Dialect) []SourceFile {
	var out []SourceFile
	for _, src := range s.Sources {
		if src.Dialect == d {
			out = append(out, src)
		}
	}
	return out
}

// Assembler turns a resolved configuration into a SourceSet.
type Assembler struct {
	Manifest *Manifest
	// Basedir is where glob patterns are expanded.
	Basedir string
}

// Assemble collects baseline sources, then the sources of every enabled
// dependency, then the table entry for the target architecture only.
func (a *Assembler) Assemble(cfg *Config) (SourceSet, error) {
	var set SourceSet
	seenSrc := map[string]bool{}
	seenInc := map[string]bool{}
	seenAsmInc := map[string]bool{}
	seenLink := map[string]bool{}

	addSources := func(patterns []string) error {
		paths, err := a.expand(patterns)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if seenSrc[p] {
				continue
			}
			seenSrc[p] = true
			set.Sources = append(set.Sources, SourceFile{Path: p, Dialect: Classify(p)})
		}
		return nil
	}
	addUnique := func(dst *[]string, seen map[string]bool, items []string) {
		for _, item := range items {
			if !seen[item] {
				seen[item] = true
				*dst = append(*dst, item)
			}
		}
	}

	if err := addSources(a.Manifest.Target.Sources); err != nil {
		return SourceSet{}, fmt.Errorf("baseline sources: %w", err)
	}
	addUnique(&set.Includes, seenInc, a.Manifest.Target.Includes)
	addUnique(&set.Links, seenLink, a.Manifest.Target.Links)

	arch := cfg.Target().Arch
	for _, dep := range a.Manifest.Deps {
		switch cfg.Mode(dep.Name) {
		case Disable:
			continue
		case System:
			addUnique(&set.Links, seenLink, dep.Links)
			continue
		case Enable:
		}

		if err := addSources(dep.Sources); err != nil {
			return SourceSet{}, fmt.Errorf("sources of %s: %w", dep.Name, err)
		}
		addUnique(&set.Includes, seenInc, dep.Includes)
		addUnique(&set.AsmIncludes, seenAsmInc, dep.AsmIncludes)

		table, ok := dep.Arch[arch]
		if !ok {
			continue
		}
		if err := addSources(table.Sources); err != nil {
			return SourceSet{}, fmt.Errorf("%s sources of %s: %w", arch, dep.Name, err)
		}
		addUnique(&set.Includes, seenInc, table.Includes)
		addUnique(&set.AsmIncludes, seenAsmInc, table.AsmIncludes)
	}

	return set, nil
}

// expand globs patterns containing meta characters; literal paths are kept as written
func (a *Assembler) expand(patterns []string) ([]string, error) {
	var out []string
	for _, pat := range patterns {
		if !strings.ContainsAny(pat, "*?[{") {
			out = append(out, pat)
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(a.Basedir), pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("while globbing %s: %w", pat, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}
