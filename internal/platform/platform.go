// Package platform holds the closed set of operating systems, architectures
// and compiler vendors a build can target.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

type OS int

const (
	Linux OS = iota
	Darwin
	Windows
	FreeBSD
)

var osNames = map[OS]string{
	Linux:   "linux",
	Darwin:  "darwin",
	Windows: "windows",
	FreeBSD: "freebsd",
}

func (o OS) String() string {
	if name, ok := osNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OS(%d)", int(o))
}

// ParseOS accepts Go (GOOS) and Python (sys.platform) spellings.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "linux":
		return Linux, nil
	case "darwin", "macos":
		return Darwin, nil
	case "windows", "win32":
		return Windows, nil
	case "freebsd":
		return FreeBSD, nil
	}
	return 0, fmt.Errorf("unsupported operating system %q", s)
}

type Arch int

const (
	X86_64 Arch = iota
	I386
	AArch64
	ARM
	PPC64LE
	RISCV64
)

var archNames = map[Arch]string{
	X86_64:  "x86_64",
	I386:    "i386",
	AArch64: "aarch64",
	ARM:     "arm",
	PPC64LE: "ppc64le",
	RISCV64: "riscv64",
}

func (a Arch) String() string {
	if name, ok := archNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

// ParseArch accepts GOARCH names as well as the uname/platform.machine spellings.
func ParseArch(s string) (Arch, error) {
	switch s {
	case "x86_64", "amd64", "AMD64", "x64":
		return X86_64, nil
	case "i386", "i686", "386", "x86":
		return I386, nil
	case "aarch64", "arm64", "ARM64":
		return AArch64, nil
	case "arm", "armv7l", "armv7":
		return ARM, nil
	case "ppc64le":
		return PPC64LE, nil
	case "riscv64":
		return RISCV64, nil
	}
	return 0, fmt.Errorf("unsupported architecture %q", s)
}

// Is64Bit reports whether the architecture has 64-bit pointers.
func (a Arch) Is64Bit() bool {
	switch a {
	case X86_64, AArch64, PPC64LE, RISCV64:
		return true
	case I386, ARM:
		return false
	default:
		panic("Arch.Is64Bit: unreachable")
	}
}

// IsX86 reports whether the architecture belongs to the x86 family, the only
// family the macro assembler dialect is meaningful on.
func (a Arch) IsX86() bool {
	switch a {
	case X86_64, I386:
		return true
	case AArch64, ARM, PPC64LE, RISCV64:
		return false
	default:
		panic("Arch.IsX86: unreachable")
	}
}

// IsARM reports whether the architecture belongs to the ARM family, whose
// assembly is compiled by the C compiler driver.
func (a Arch) IsARM() bool {
	switch a {
	case AArch64, ARM:
		return true
	case X86_64, I386, PPC64LE, RISCV64:
		return false
	default:
		panic("Arch.IsARM: unreachable")
	}
}

// Target is the OS/architecture pair a module is built for.
type Target struct {
	OS   OS
	Arch Arch
}

func (t Target) String() string {
	return t.OS.String() + "-" + t.Arch.String()
}

// Host returns the target matching the running process.
func Host() (Target, error) {
	o, err := ParseOS(runtime.GOOS)
	if err != nil {
		return Target{}, err
	}
	a, err := ParseArch(runtime.GOARCH)
	if err != nil {
		return Target{}, err
	}
	return Target{OS: o, Arch: a}, nil
}

// ObjectSuffix is the extension given to compiled object files.
func (t Target) ObjectSuffix() string {
	switch t.OS {
	case Windows:
		return ".obj"
	case Linux, Darwin, FreeBSD:
		return ".o"
	default:
		panic("Target.ObjectSuffix: unreachable")
	}
}

// ModuleSuffix is the default extension of a loadable module.
func (t Target) ModuleSuffix() string {
	switch t.OS {
	case Windows:
		return ".pyd"
	case Linux, Darwin, FreeBSD:
		return ".so"
	default:
		panic("Target.ModuleSuffix: unreachable")
	}
}
