package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qobs-build/qext/internal/msg"
)

// Backend compiles a batch of sources into object files. On failure it
// returns the objects it did produce together with the error.
type Backend interface {
	Compile(sources, includes, args []string) ([]string, error)
}

// Runner executes a command in dir and returns its combined output.
type Runner interface {
	Run(dir, name string, args ...string) ([]byte, error)
}

// IncludeEnv prepares the macro assembler's include environment before a
// macro assembly batch.
type IncludeEnv interface {
	Prepare(includeDirs []string, workDir string) error
}

// sourceDiagnostic is implemented by backend errors that know which file
// failed and what the tool printed.
type sourceDiagnostic interface {
	FailedSource() string
	Diagnostic() string
}

// CompileError is a fatal compile failure. Output is the tool's diagnostic,
// unchanged.
type CompileError struct {
	Dialect Dialect
	File    string
	Output  string
	Err     error
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s compile of %s failed: %v", e.Dialect, e.File, e.Err)
	if e.Output != "" {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(e.Output, "\n"))
	}
	return sb.String()
}

func (e *CompileError) Unwrap() error { return e.Err }

// ErrNoMacroAssembler means macro assembly sources reached the dispatcher
// although no macro assembler was located. The resolver gates accelerators
// on the assembler, so this is an inconsistency rather than a compile error.
var ErrNoMacroAssembler = errors.New("macro assembly sources present but no macro assembler was located")

// Dispatcher routes each dialect to its backend and merges the objects.
//
// Macro assembly sources with no Assembler are an error (ErrNoMacroAssembler)
// rather than a silently skipped batch: the resolver only enables sources
// that need one when it was found.
type Dispatcher struct {
	Compiler Backend
	// Assembler is nil when no macro assembler was located.
	Assembler  Backend
	IncludeEnv IncludeEnv
	// Driver is the C/C++ compiler driver used for native assembly.
	Driver string
	Runner Runner
	// WorkDir is where every tool runs.
	WorkDir   string
	ObjDir    string
	ObjSuffix string
}

// Dispatch compiles C++, then C, then macro assembly, then native assembly.
// The first failure aborts the build and removes every object produced so far.
func (d *Dispatcher) Dispatch(set SourceSet, args ArgumentSet) (objects []string, err error) {
	defer func() {
		if err != nil {
			removeObjects(objects)
			objects = nil
		}
	}()

	batch := func(dialect Dialect, backend Backend, includes []string) error {
		files := set.ByDialect(dialect)
		if len(files) == 0 {
			return nil
		}
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		objs, err := backend.Compile(paths, includes, args.For(dialect))
		objects = append(objects, objs...)
		if err != nil {
			return annotate(dialect, paths, err)
		}
		return nil
	}

	if err := batch(CXX, d.Compiler, set.Includes); err != nil {
		return objects, err
	}
	if err := batch(C, d.Compiler, set.Includes); err != nil {
		return objects, err
	}

	if asm := set.ByDialect(MacroAssembly); len(asm) > 0 {
		if d.Assembler == nil {
			return objects, fmt.Errorf("%w (first source: %s)", ErrNoMacroAssembler, asm[0].Path)
		}
		if d.IncludeEnv != nil {
			if err := d.IncludeEnv.Prepare(set.AsmIncludes, d.WorkDir); err != nil {
				return objects, fmt.Errorf("failed to prepare assembler include environment: %w", err)
			}
		}
		if err := batch(MacroAssembly, d.Assembler, set.AsmIncludes); err != nil {
			return objects, err
		}
	}

	for _, src := range set.ByDialect(NativeAssembly) {
		obj, err := d.assembleNative(src.Path, set.Includes, args.For(NativeAssembly))
		if err != nil {
			return objects, err
		}
		objects = append(objects, obj)
	}

	return objects, nil
}

// assembleNative runs the compiler driver on one assembly file:
// <driver> -c <src> -o <obj> <define> <arch flag> -I<dir>...
func (d *Dispatcher) assembleNative(src string, includes, asmArgs []string) (string, error) {
	obj := filepath.Join(d.ObjDir, src+d.ObjSuffix)
	if err := os.MkdirAll(filepath.Dir(obj), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	args := make([]string, 0, 4+len(asmArgs)+len(includes))
	args = append(args, "-c", src, "-o", obj)
	args = append(args, asmArgs...)
	for _, dir := range includes {
		args = append(args, "-I"+dir)
	}

	msg.Step("AS", src)
	out, err := d.Runner.Run(d.WorkDir, d.Driver, args...)
	if err != nil {
		return "", &CompileError{Dialect: NativeAssembly, File: src, Output: string(out), Err: err}
	}
	if len(out) > 0 {
		(&msg.IndentWriter{Indent: "    ", W: msg.Output}).Write(out)
	}
	return obj, nil
}

func annotate(dialect Dialect, batch []string, err error) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		ce.Dialect = dialect
		return ce
	}
	out := &CompileError{Dialect: dialect, File: strings.Join(batch, " "), Err: err}
	var diag sourceDiagnostic
	if errors.As(err, &diag) {
		out.File = diag.FailedSource()
		out.Output = diag.Diagnostic()
	}
	return out
}

func removeObjects(objects []string) {
	for _, obj := range objects {
		if err := os.Remove(obj); err != nil && !os.IsNotExist(err) {
			msg.Warn("failed to remove %s: %v", obj, err)
		}
	}
}
