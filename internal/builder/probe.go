package builder

import (
	"fmt"
	"os"

	"github.com/qobs-build/qext/internal/msg"
)

// TrialCompiler is what the prober needs from the active compiler.
type TrialCompiler interface {
	// Identity distinguishes compilers whose answers may differ, e.g. the driver path.
	Identity() string
	// TrialCompile compiles src into objDir with extra arguments. Any error
	// means the compiler rejected the unit.
	TrialCompile(src, objDir string, args []string) error
}

type ProbeKind int

const (
	FlagProbe ProbeKind = iota
	HeaderProbe
)

func (k ProbeKind) String() string {
	switch k {
	case FlagProbe:
		return "flag"
	case HeaderProbe:
		return "header"
	default:
		return fmt.Sprintf("ProbeKind(%d)", int(k))
	}
}

// ProbeResult is the outcome of one capability probe.
type ProbeResult struct {
	Kind      ProbeKind
	Key       string
	Supported bool
}

type probeKey struct {
	compiler string
	kind     ProbeKind
	key      string
}

const trivialMain = "int main() { return 0; }\n"

// Prober answers flag and header support questions with trial compiles.
// Answers are kept for the lifetime of the Prober; nothing is persisted.
type Prober struct {
	compiler TrialCompiler
	scratch  string
	cache    map[probeKey]bool
	results  []ProbeResult
}

func NewProber(compiler TrialCompiler) *Prober {
	return &Prober{
		compiler: compiler,
		cache:    make(map[probeKey]bool),
	}
}

// SupportsFlag reports whether a trivial unit compiles with flag added.
func (p *Prober) SupportsFlag(flag string) bool {
	return p.probe(FlagProbe, flag, trivialMain, []string{flag})
}

// HasHeader reports whether a unit including <header> compiles.
func (p *Prober) HasHeader(header string) bool {
	return p.probe(HeaderProbe, header, "#include <"+header+">\n"+trivialMain, nil)
}

// Results lists every distinct probe in the order it first ran.
func (p *Prober) Results() []ProbeResult {
	out := make([]ProbeResult, len(p.results))
	copy(out, p.results)
	return out
}

// Close removes the scratch directory.
func (p *Prober) Close() error {
	if p.scratch == "" {
		return nil
	}
	err := os.RemoveAll(p.scratch)
	p.scratch = ""
	return err
}

func (p *Prober) probe(kind ProbeKind, key, unit string, args []string) bool {
	k := probeKey{compiler: p.compiler.Identity(), kind: kind, key: key}
	if supported, ok := p.cache[k]; ok {
		return supported
	}

	supported := p.trial(unit, args)
	p.cache[k] = supported
	p.results = append(p.results, ProbeResult{Kind: kind, Key: key, Supported: supported})

	if supported {
		msg.Info("probe %s %s: supported", kind, key)
	} else {
		msg.Info("probe %s %s: not supported, continuing without it", kind, key)
	}
	return supported
}

func (p *Prober) trial(unit string, args []string) bool {
	if p.scratch == "" {
		dir, err := os.MkdirTemp("", "qext-probe-")
		if err != nil {
			msg.Warn("can not create probe directory: %v", err)
			return false
		}
		p.scratch = dir
	}

	f, err := os.CreateTemp(p.scratch, "probe-*.cpp")
	if err != nil {
		msg.Warn("can not create probe file: %v", err)
		return false
	}
	defer os.Remove(f.Name())

	_, err = f.WriteString(unit)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		msg.Warn("can not write probe file: %v", err)
		return false
	}

	// each probe gets its own object directory so nothing outlives it
	objDir, err := os.MkdirTemp(p.scratch, "obj-")
	if err != nil {
		msg.Warn("can not create probe object directory: %v", err)
		return false
	}
	defer os.RemoveAll(objDir)

	return p.compiler.TrialCompile(f.Name(), objDir, args) == nil
}
