package builder

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/qobs-build/qext/internal/platform"
)

// stubProber answers from fixed sets and counts nothing
type stubProber struct {
	flags   map[string]bool
	headers map[string]bool
}

func (s stubProber) SupportsFlag(flag string) bool { return s.flags[flag] }
func (s stubProber) HasHeader(header string) bool  { return s.headers[header] }

var gnuEverything = stubProber{
	flags: map[string]bool{
		"-flto=auto":                     true,
		"-D_FORTIFY_SOURCE=2":            true,
		"-fconstexpr-ops-limit=99000100": true,
		"-fcf-protection=full":           true,
		"-mmacosx-version-min=10.15":     true,
	},
	headers: map[string]bool{"unistd.h": true},
}

func compose(t *testing.T, target platform.Target, vendor platform.Vendor, prober FlagProber, requests map[string]string) ArgumentSet {
	t.Helper()
	m := defaultManifest(t, target)
	r := &Resolver{Deps: m.Deps, Target: target, Vendor: vendor, LookPath: found}
	c := &Composer{Manifest: m, Config: r.Resolve(requests), Prober: prober}
	return c.Compose()
}

func TestStripCxxOnly(t *testing.T) {
	in := []string{"-std=c++17", "-O3", "-fconstexpr-ops-limit=99000100", "-DNDEBUG", "/std:c++17", "/constexpr:steps1", "-std=gnu++20", "-std=c11"}
	want := []string{"-O3", "-DNDEBUG", "-std=c11"}
	if diff := cmp.Diff(want, StripCxxOnly(in)); diff != "" {
		t.Errorf("StripCxxOnly() (-want +got):\n%s", diff)
	}
}

func TestComposeCDialectHasNoCxxFlags(t *testing.T) {
	args := compose(t, linuxX64, platform.GNU, gnuEverything, nil)
	for _, flag := range args.For(C) {
		if IsCxxOnly(flag) {
			t.Errorf("C arguments contain %q", flag)
		}
	}
	if !slices.Contains(args.For(CXX), "-std=c++17") {
		t.Error("C++ arguments lack -std=c++17")
	}
}

func TestComposeUnsupportedFlagIsAbsent(t *testing.T) {
	prober := stubProber{flags: map[string]bool{"-flto": true}}
	args := compose(t, linuxX64, platform.GNU, prober, nil)

	cxx := args.For(CXX)
	for _, flag := range []string{"-flto=auto", "-fcf-protection=full", "-D_FORTIFY_SOURCE=2", "-fconstexpr-ops-limit=99000100", "-DZ_HAVE_UNISTD_H"} {
		if slices.Contains(cxx, flag) {
			t.Errorf("unsupported %q present in C++ arguments", flag)
		}
	}
	if !slices.Contains(cxx, "-flto") {
		t.Error("fallback -flto missing")
	}
}

func TestComposeGNULinux(t *testing.T) {
	args := compose(t, linuxX64, platform.GNU, gnuEverything, nil)
	want := []string{
		"-std=c++17", "-O3", "-DNDEBUG",
		"-DWITH_PYTHON_SUPPORT",
		"-D_GLIBCXX_ASSERTIONS", "-D_LARGEFILE64_SOURCE=1",
		"-flto=auto",
		"-D_FORTIFY_SOURCE=2",
		"-DWITH_ISAL", "-DWITH_RPMALLOC",
		"-fconstexpr-ops-limit=99000100",
		"-fPIC", "-D_GNU_SOURCE",
		"-fstack-protector-strong",
		"-fcf-protection=full",
		"-DZ_HAVE_UNISTD_H",
	}
	if diff := cmp.Diff(want, args.For(CXX)); diff != "" {
		t.Errorf("C++ arguments (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-fstack-clash-protection"}, args.Link()); diff != "" {
		t.Errorf("link arguments (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-f", "elf64"}, args.For(MacroAssembly)); diff != "" {
		t.Errorf("macro assembler arguments (-want +got):\n%s", diff)
	}
}

func TestComposeDisabledDependencyHasNoDefine(t *testing.T) {
	args := compose(t, linuxX64, platform.GNU, gnuEverything, map[string]string{"isal": "disable", "rpmalloc": "system"})
	cxx := args.For(CXX)
	if slices.Contains(cxx, "-DWITH_ISAL") {
		t.Error("disabled accelerator still defines WITH_ISAL")
	}
	if !slices.Contains(cxx, "-DWITH_RPMALLOC") {
		t.Error("system allocator lost its define")
	}
}

func TestComposeMSVC(t *testing.T) {
	win := platform.Target{OS: platform.Windows, Arch: platform.X86_64}
	// MSVC answers yes to everything; no GNU flag may sneak in anyway
	prober := stubProber{flags: map[string]bool{"-flto=auto": true, "-D_FORTIFY_SOURCE=2": true}, headers: map[string]bool{}}
	args := compose(t, win, platform.MSVC, prober, nil)

	want := []string{
		"/std:c++17", "/O2", "/DNDEBUG",
		"/DWITH_PYTHON_SUPPORT",
		"/DWITH_ISAL", "/DWITH_RPMALLOC",
		"/constexpr:steps99000100",
	}
	if diff := cmp.Diff(want, args.For(CXX)); diff != "" {
		t.Errorf("C++ arguments (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(msvcAllocatorLibraries, args.Libraries()); diff != "" {
		t.Errorf("libraries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-f", "win64"}, args.For(MacroAssembly)); diff != "" {
		t.Errorf("macro assembler arguments (-want +got):\n%s", diff)
	}
	for _, flag := range args.For(C) {
		if IsCxxOnly(flag) {
			t.Errorf("C arguments contain %q", flag)
		}
	}
}

func TestComposeMSVCWithoutAllocator(t *testing.T) {
	win := platform.Target{OS: platform.Windows, Arch: platform.X86_64}
	args := compose(t, win, platform.MSVC, stubProber{}, map[string]string{"rpmalloc": "disable"})
	if libs := args.Libraries(); len(libs) != 0 {
		t.Errorf("libraries = %v, want none", libs)
	}
}

func TestComposeMinGW(t *testing.T) {
	win := platform.Target{OS: platform.Windows, Arch: platform.X86_64}
	args := compose(t, win, platform.MinGW, gnuEverything, nil)
	if diff := cmp.Diff(mingwStaticRuntime, args.Link()); diff != "" {
		t.Errorf("link arguments (-want +got):\n%s", diff)
	}
	if slices.Contains(args.For(CXX), "-fPIC") {
		t.Error("MinGW build got -fPIC")
	}
	if !slices.Contains(args.For(CXX), "-DMS_WIN64") {
		t.Error("64-bit MinGW build lacks MS_WIN64")
	}
	if !slices.Contains(args.For(C), "-DMS_WIN64") {
		t.Error("64-bit MinGW C arguments lack MS_WIN64")
	}
}

func TestComposeDarwin(t *testing.T) {
	mac := platform.Target{OS: platform.Darwin, Arch: platform.AArch64}
	args := compose(t, mac, platform.GNU, gnuEverything, nil)
	if !slices.Contains(args.For(CXX), "-mmacosx-version-min=10.15") {
		t.Error("compile arguments lack the deployment target")
	}
	if !slices.Contains(args.Link(), "-mmacosx-version-min=10.15") {
		t.Error("link arguments lack the deployment target")
	}
	if diff := cmp.Diff([]string{"-D__ASSEMBLY__", "-march=armv8-a+crc+crypto"}, args.For(NativeAssembly)); diff != "" {
		t.Errorf("native assembler arguments (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-f", "macho64", "--prefix", "_"}, args.For(MacroAssembly)); diff != "" {
		t.Errorf("macro assembler arguments (-want +got):\n%s", diff)
	}
}

func TestComposeExtraFlagsLast(t *testing.T) {
	m := defaultManifest(t, linuxX64)
	cfg := (&Resolver{Deps: m.Deps, Target: linuxX64, Vendor: platform.GNU, LookPath: found}).Resolve(nil)
	c := &Composer{
		Manifest:     m,
		Config:       cfg,
		Prober:       gnuEverything,
		ExtraCompile: []string{"-march=native"},
		ExtraLink:    []string{"-Wl,-s"},
	}
	args := c.Compose()
	if cxx := args.For(CXX); cxx[len(cxx)-1] != "-march=native" {
		t.Errorf("last compile flag = %q", cxx[len(cxx)-1])
	}
	if link := args.Link(); link[len(link)-1] != "-Wl,-s" {
		t.Errorf("last link flag = %q", link[len(link)-1])
	}
}

func TestComposeMSVCLeavesMSWin64ToPyconfig(t *testing.T) {
	win := platform.Target{OS: platform.Windows, Arch: platform.X86_64}
	args := compose(t, win, platform.MSVC, stubProber{}, nil)
	if slices.Contains(args.For(CXX), "/DMS_WIN64") {
		t.Error("MSVC arguments define MS_WIN64")
	}
}
