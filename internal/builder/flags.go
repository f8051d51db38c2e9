package builder

import (
	"maps"
	"slices"
	"strings"

	"github.com/qobs-build/qext/internal/platform"
)

// ArgumentSet is the composed set of compiler and linker arguments. It is
// only produced by Composer.Compose; accessors return copies.
type ArgumentSet struct {
	compile   []string
	macroAsm  []string
	nativeAsm []string
	link      []string
	libraries []string
}

// For returns the compile arguments of a dialect. The C dialect gets the
// C++ arguments with every C++-only flag removed.
func (a ArgumentSet) For(d Dialect) []string {
	switch d {
	case CXX:
		return slices.Clone(a.compile)
	case C:
		return StripCxxOnly(a.compile)
	case MacroAssembly:
		return slices.Clone(a.macroAsm)
	case NativeAssembly:
		return slices.Clone(a.nativeAsm)
	default:
		panic("ArgumentSet.For: unreachable")
	}
}

// Link returns extra linker arguments.
func (a ArgumentSet) Link() []string { return slices.Clone(a.link) }

// Libraries returns system libraries to link against.
func (a ArgumentSet) Libraries() []string { return slices.Clone(a.libraries) }

var cxxOnlyPrefixes = []string{
	"-std=c++",
	"-std=gnu++",
	"/std:c++",
	"-fconstexpr-",
	"/constexpr:",
}

// IsCxxOnly reports whether a C compile would reject or misuse flag.
func IsCxxOnly(flag string) bool {
	for _, prefix := range cxxOnlyPrefixes {
		if strings.HasPrefix(flag, prefix) {
			return true
		}
	}
	return false
}

// StripCxxOnly returns args without the flags IsCxxOnly matches.
func StripCxxOnly(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if !IsCxxOnly(arg) {
			out = append(out, arg)
		}
	}
	return out
}

// FlagProber is the part of the Prober the composer uses.
type FlagProber interface {
	SupportsFlag(flag string) bool
	HasHeader(header string) bool
}

const constexprLimit = "99000100"

var mingwStaticRuntime = []string{
	"-static-libgcc",
	"-static-libstdc++",
	"-Wl,-Bstatic,--whole-archive",
	"-lwinpthread",
	"-Wl,--no-whole-archive",
}

// from rpmalloc's msvc build description
var msvcAllocatorLibraries = []string{"kernel32", "user32", "shell32", "advapi32"}

type spelling struct {
	std  string
	opt  string
	def  string
	lto  []string
	cexp []string
}

func spellingFor(v platform.Vendor) spelling {
	switch v {
	case platform.MSVC:
		return spelling{
			std:  "/std:c++17",
			opt:  "/O2",
			def:  "/D",
			cexp: []string{"/constexpr:steps" + constexprLimit},
		}
	case platform.GNU, platform.MinGW:
		return spelling{
			std:  "-std=c++17",
			opt:  "-O3",
			def:  "-D",
			lto:  []string{"-flto=auto", "-flto"},
			cexp: []string{"-fconstexpr-ops-limit=" + constexprLimit, "-fconstexpr-steps=" + constexprLimit},
		}
	default:
		panic("spellingFor: unreachable")
	}
}

func (s spelling) define(name, value string) string {
	if value == "" {
		return s.def + name
	}
	return s.def + name + "=" + value
}

// Composer builds the final ArgumentSet.
type Composer struct {
	Manifest *Manifest
	Config   *Config
	Prober   FlagProber
	// ExtraCompile and ExtraLink are appended last, verbatim.
	ExtraCompile []string
	ExtraLink    []string
}

// Compose applies, in order: baseline flags, link-time optimization, one
// define per active dependency, the vendor branch and header-dependent
// defines.
func (c *Composer) Compose() ArgumentSet {
	var a ArgumentSet
	target := c.Config.Target()
	vendor := c.Config.Vendor()
	sp := spellingFor(vendor)

	firstSupported := func(candidates []string) (string, bool) {
		for _, flag := range candidates {
			if c.Prober.SupportsFlag(flag) {
				return flag, true
			}
		}
		return "", false
	}

	a.compile = append(a.compile, sp.std, sp.opt, sp.define("NDEBUG", ""))
	for _, name := range slices.Sorted(maps.Keys(c.Manifest.Target.Defines)) {
		a.compile = append(a.compile, sp.define(name, c.Manifest.Target.Defines[name]))
	}
	if vendor != platform.MSVC {
		for _, name := range slices.Sorted(maps.Keys(c.Manifest.Target.GNUDefines)) {
			a.compile = append(a.compile, sp.define(name, c.Manifest.Target.GNUDefines[name]))
		}
	}
	// cl.exe gets MS_WIN64 from pyconfig.h
	if vendor == platform.MinGW && target.Arch.Is64Bit() {
		a.compile = append(a.compile, sp.define("MS_WIN64", ""))
	}

	if flag, ok := firstSupported(sp.lto); ok {
		a.compile = append(a.compile, flag)
	}
	if vendor != platform.MSVC && c.Prober.SupportsFlag("-D_FORTIFY_SOURCE=2") {
		a.compile = append(a.compile, "-D_FORTIFY_SOURCE=2")
	}

	allocator := false
	for _, dep := range c.Manifest.Deps {
		if !c.Config.Mode(dep.Name).Active() {
			continue
		}
		if dep.Role == RoleAllocator {
			allocator = true
		}
		if dep.Define != "" {
			a.compile = append(a.compile, sp.define(dep.Define, ""))
		}
	}

	switch vendor {
	case platform.MSVC:
		a.compile = append(a.compile, sp.cexp...)
		if allocator {
			a.libraries = append(a.libraries, msvcAllocatorLibraries...)
		}
	case platform.MinGW:
		a.link = append(a.link, mingwStaticRuntime...)
	case platform.GNU:
		if flag, ok := firstSupported(sp.cexp); ok {
			a.compile = append(a.compile, flag)
		}
		switch target.OS {
		case platform.Linux:
			a.compile = append(a.compile, "-fPIC", sp.define("_GNU_SOURCE", ""))
		case platform.FreeBSD:
			a.compile = append(a.compile, "-fPIC")
		case platform.Darwin:
			if v := c.Manifest.Package.MinMacOS; v != "" {
				flag := "-mmacosx-version-min=" + v
				if c.Prober.SupportsFlag(flag) {
					a.compile = append(a.compile, flag)
					a.link = append(a.link, flag)
				}
			}
		case platform.Windows:
		default:
			panic("Compose: unreachable OS")
		}
		a.compile = append(a.compile, "-fstack-protector-strong")
		a.link = append(a.link, "-fstack-clash-protection")
		if c.Prober.SupportsFlag("-fcf-protection=full") {
			a.compile = append(a.compile, "-fcf-protection=full")
		}
	default:
		panic("Compose: unreachable vendor")
	}

	if c.Prober.HasHeader("unistd.h") {
		a.compile = append(a.compile, sp.define("Z_HAVE_UNISTD_H", ""))
	}

	a.compile = append(a.compile, c.ExtraCompile...)
	a.link = append(a.link, c.ExtraLink...)
	a.macroAsm = macroAsmArgs(target)
	a.nativeAsm = nativeAsmArgs(target.Arch)
	return a
}

// macroAsmArgs selects the NASM object format for the target
func macroAsmArgs(t platform.Target) []string {
	bits := "64"
	if !t.Arch.Is64Bit() {
		bits = "32"
	}
	switch t.OS {
	case platform.Linux, platform.FreeBSD:
		return []string{"-f", "elf" + bits}
	case platform.Darwin:
		return []string{"-f", "macho" + bits, "--prefix", "_"}
	case platform.Windows:
		return []string{"-f", "win" + bits}
	default:
		panic("macroAsmArgs: unreachable")
	}
}

// nativeAsmArgs are the define and architecture flag passed to the compiler
// driver when it assembles .S files
func nativeAsmArgs(arch platform.Arch) []string {
	switch arch {
	case platform.AArch64:
		return []string{"-D__ASSEMBLY__", "-march=armv8-a+crc+crypto"}
	case platform.ARM:
		return []string{"-D__ASSEMBLY__", "-march=armv7-a"}
	case platform.X86_64, platform.I386, platform.PPC64LE, platform.RISCV64:
		return []string{"-D__ASSEMBLY__"}
	default:
		panic("nativeAsmArgs: unreachable")
	}
}
