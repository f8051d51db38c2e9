package builder

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/qext/internal/msg"
	"github.com/qobs-build/qext/internal/platform"
)

var errNoCompiler = errors.New("no C/C++ compiler found (set CXX or install one)")

// CompilerDriver is the host build driver's C/C++ compiler: it compiles
// batches, answers trial compiles and links the module.
type CompilerDriver interface {
	Backend
	TrialCompiler
	// Driver is the executable, used directly for native assembly.
	Driver() string
	Link(objects []string, out string, args, libraries []string) error
}

// Toolchain is what the host provides to a build.
type Toolchain struct {
	Compiler CompilerDriver
	// Assembler is the macro assembler, nil when none was located.
	Assembler Backend
	Runner    Runner
	// IncludeEnv prepares macro assembler includes; AsmIncludeCopier when nil.
	IncludeEnv IncludeEnv
	LookPath   func(file string) (string, error)
}

// Options are the inputs of one invocation, read once by the caller.
type Options struct {
	Target platform.Target
	Vendor platform.Vendor
	// Requests maps dependency names to raw requested modes. They win over
	// <PACKAGE>_BUILD_<DEPENDENCY> settings in Environ.
	Requests map[string]string
	// Environ is visible to manifest expressions as `environ`.
	Environ      map[string]string
	ExtraCompile []string
	ExtraLink    []string
}

// Builder builds the single module a package directory describes.
type Builder struct {
	manifest *Manifest
	basedir  string
	env      ConfigEnv
	opts     Options
}

func NewBuilderInDirectory(path string, opts Options) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	env := NewConfigEnv(path, opts.Target, opts.Environ)
	manifest, err := ParseManifestFromFile(filepath.Join(path, ManifestFile), env)
	if err != nil {
		return nil, err
	}
	return &Builder{manifest: manifest, basedir: path, env: env, opts: opts}, nil
}

func (b *Builder) Manifest() *Manifest { return b.manifest }
func (b *Builder) Basedir() string     { return b.basedir }

// ObjDir is where intermediate objects go, e.g. build/temp.linux-x86_64.
func (b *Builder) ObjDir() string {
	return filepath.Join(b.basedir, "build", "temp."+b.opts.Target.String())
}

// OutputPath is the module produced by Build, e.g. build/lib.linux-x86_64/rapidgzip.so.
func (b *Builder) OutputPath() string {
	suffix := b.manifest.Package.Suffix
	if suffix == "" {
		suffix = b.opts.Target.ModuleSuffix()
	}
	return filepath.Join(b.basedir, "build", "lib."+b.opts.Target.String(), b.manifest.Package.Name+suffix)
}

// Resolve runs the dependency resolver alone.
func (b *Builder) Resolve(lookPath func(string) (string, error)) *Config {
	r := &Resolver{
		Deps:     b.manifest.Deps,
		Target:   b.opts.Target,
		Vendor:   b.opts.Vendor,
		LookPath: lookPath,
	}
	return r.Resolve(b.Requests())
}

// RequestPrefix is the environment prefix of dependency settings, e.g. RAPIDGZIP_BUILD_.
func (b *Builder) RequestPrefix() string {
	name := strings.ToUpper(strings.ReplaceAll(b.manifest.Package.Name, "-", "_"))
	return name + "_BUILD_"
}

// Requests merges dependency settings from Environ with explicit ones.
func (b *Builder) Requests() map[string]string {
	prefix := b.RequestPrefix()
	out := make(map[string]string)
	for key, value := range b.opts.Environ {
		if dep, ok := strings.CutPrefix(key, prefix); ok {
			out[strings.ToLower(dep)] = value
		}
	}
	maps.Copy(out, b.opts.Requests)

	for _, name := range slices.Sorted(maps.Keys(out)) {
		msg.Info("build option %s=%s", name, out[name])
	}
	return out
}

// Plan is everything decided before the first real compile.
type Plan struct {
	Config  *Config
	Sources SourceSet
	Args    ArgumentSet
	Probes  []ProbeResult
}

// Plan resolves dependencies, fetches missing bundled sources, runs the
// build hook, assembles sources and composes arguments.
func (b *Builder) Plan(tc Toolchain) (*Plan, error) {
	if tc.Compiler == nil {
		return nil, errNoCompiler
	}

	msg.Info("building %s for %s with %s (%s)", b.manifest.Package.Name, b.opts.Target, tc.Compiler.Driver(), b.opts.Vendor)
	cfg := b.Resolve(tc.LookPath)

	if err := fetchMissing(b.basedir, b.manifest.Deps, cfg); err != nil {
		return nil, err
	}
	if err := b.manifest.RunBuildScript(b.env); err != nil {
		return nil, err
	}

	asm := &Assembler{Manifest: b.manifest, Basedir: b.basedir}
	set, err := asm.Assemble(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble sources: %w", err)
	}

	prober := NewProber(tc.Compiler)
	defer func() {
		if err := prober.Close(); err != nil {
			msg.Warn("failed to remove probe directory: %v", err)
		}
	}()
	composer := &Composer{
		Manifest:     b.manifest,
		Config:       cfg,
		Prober:       prober,
		ExtraCompile: b.opts.ExtraCompile,
		ExtraLink:    b.opts.ExtraLink,
	}
	args := composer.Compose()

	return &Plan{Config: cfg, Sources: set, Args: args, Probes: prober.Results()}, nil
}

// Build plans, compiles every dialect and links the module. It returns the
// module path.
func (b *Builder) Build(tc Toolchain) (string, error) {
	plan, err := b.Plan(tc)
	if err != nil {
		return "", err
	}

	includeEnv := tc.IncludeEnv
	if includeEnv == nil {
		includeEnv = AsmIncludeCopier{}
	}
	d := &Dispatcher{
		Compiler:   tc.Compiler,
		IncludeEnv: includeEnv,
		Driver:     tc.Compiler.Driver(),
		Runner:     tc.Runner,
		WorkDir:    b.basedir,
		ObjDir:     b.ObjDir(),
		ObjSuffix:  b.opts.Target.ObjectSuffix(),
	}
	// the macro assembler dialect only exists on x86
	if b.opts.Target.Arch.IsX86() {
		d.Assembler = tc.Assembler
	}

	objects, err := d.Dispatch(plan.Sources, plan.Args)
	if err != nil {
		return "", err
	}

	out := b.OutputPath()
	libraries := append(plan.Args.Libraries(), plan.Sources.Links...)
	if err := tc.Compiler.Link(objects, out, plan.Args.Link(), libraries); err != nil {
		removeObjects(objects)
		return "", fmt.Errorf("linking failed: %w", err)
	}

	msg.Info("built %s", out)
	return out, nil
}
