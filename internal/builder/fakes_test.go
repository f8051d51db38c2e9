package builder

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/qobs-build/qext/internal/msg"
	"github.com/qobs-build/qext/internal/platform"
)

func TestMain(m *testing.M) {
	msg.Output = io.Discard
	os.Exit(m.Run())
}

var (
	linuxX64   = platform.Target{OS: platform.Linux, Arch: platform.X86_64}
	linuxARM64 = platform.Target{OS: platform.Linux, Arch: platform.AArch64}
)

var errRejected = errors.New("rejected")

// compileCall is one Compile invocation seen by fakeBackend
type compileCall struct {
	Sources  []string
	Includes []string
	Args     []string
}

// fakeBackend writes an empty object per source so removal can be observed.
// Sources listed in fail are rejected.
type fakeBackend struct {
	objDir string
	fail   map[string]bool
	calls  []compileCall
}

func (f *fakeBackend) Compile(sources, includes, args []string) ([]string, error) {
	f.calls = append(f.calls, compileCall{Sources: sources, Includes: includes, Args: args})
	var objects []string
	for _, src := range sources {
		if f.fail[src] {
			return objects, &fakeDiag{file: src, out: src + ": error: expected ';'"}
		}
		obj := filepath.Join(f.objDir, filepath.Base(src)+".o")
		if err := os.WriteFile(obj, nil, 0o644); err != nil {
			return objects, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

type fakeDiag struct{ file, out string }

func (e *fakeDiag) Error() string        { return "exit status 1" }
func (e *fakeDiag) FailedSource() string { return e.file }
func (e *fakeDiag) Diagnostic() string   { return e.out }

// fakeCompiler is a CompilerDriver that accepts the flags in supported
// and the headers in headers.
type fakeCompiler struct {
	fakeBackend
	identity  string
	supported map[string]bool
	headers   map[string]bool
	trials    int
	linked    []string
	linkArgs  []string
	libraries []string
}

func (f *fakeCompiler) Identity() string {
	if f.identity == "" {
		return "fake"
	}
	return f.identity
}

func (f *fakeCompiler) Driver() string { return "fakecc" }

func (f *fakeCompiler) TrialCompile(src, objDir string, args []string) error {
	f.trials++
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if _, err := os.Stat(objDir); err != nil {
		return err
	}
	for _, arg := range args {
		if !f.supported[arg] {
			return errRejected
		}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if header, ok := strings.CutPrefix(string(data), "#include <"); ok {
		header, _, _ = strings.Cut(header, ">")
		if !f.headers[header] {
			return errRejected
		}
	}
	return nil
}

func (f *fakeCompiler) Link(objects []string, out string, args, libraries []string) error {
	f.linked = slices.Clone(objects)
	f.linkArgs = args
	f.libraries = libraries
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, nil, 0o644)
}

// fakeRunner records commands and fails the ones whose arguments contain fail.
type fakeRunner struct {
	fail     string
	commands [][]string
}

func (r *fakeRunner) Run(dir, name string, args ...string) ([]byte, error) {
	r.commands = append(r.commands, append([]string{name}, args...))
	if r.fail != "" && slices.Contains(args, r.fail) {
		return []byte("assembler: bad instruction"), errRejected
	}
	return nil, nil
}

// recordingIncludeEnv records Prepare calls without touching the filesystem.
type recordingIncludeEnv struct {
	dirs    []string
	workDir string
	calls   int
}

func (r *recordingIncludeEnv) Prepare(includeDirs []string, workDir string) error {
	r.calls++
	r.dirs = includeDirs
	r.workDir = workDir
	return nil
}

// found and missing are LookPath doubles.
func found(file string) (string, error) { return "/usr/bin/" + file, nil }
func missing(file string) (string, error) {
	return "", errors.New(file + ": executable file not found in $PATH")
}

func defaultManifest(t *testing.T, target platform.Target) *Manifest {
	t.Helper()
	m, err := ParseManifest(strings.NewReader(string(DefaultManifest)), NewConfigEnv(t.TempDir(), target, nil))
	if err != nil {
		t.Fatalf("ParseManifest(default): %v", err)
	}
	return m
}
