package platform

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Vendor is the family of the compiler driver, which decides flag spelling.
type Vendor int

const (
	// GNU is any Unix-like GCC/Clang compatible driver.
	GNU Vendor = iota
	// MSVC is the Windows-native cl.exe (or clang-cl).
	MSVC
	// MinGW is a GCC compatible driver producing Windows binaries.
	MinGW
)

func (v Vendor) String() string {
	switch v {
	case GNU:
		return "gnu"
	case MSVC:
		return "msvc"
	case MinGW:
		return "mingw"
	default:
		return fmt.Sprintf("Vendor(%d)", int(v))
	}
}

func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(s) {
	case "gnu", "gcc", "clang", "unix":
		return GNU, nil
	case "msvc", "cl":
		return MSVC, nil
	case "mingw", "mingw32":
		return MinGW, nil
	}
	return 0, fmt.Errorf("unsupported compiler vendor %q", s)
}

// DetectVendor guesses the vendor from the compiler driver's file name and
// the target OS.
func DetectVendor(compiler string, os OS) Vendor {
	base := strings.ToLower(filepath.Base(compiler))
	base = strings.TrimSuffix(base, ".exe")
	if base == "cl" || base == "clang-cl" {
		return MSVC
	}
	switch os {
	case Windows:
		return MinGW
	case Linux, Darwin, FreeBSD:
		return GNU
	default:
		panic("DetectVendor: unreachable")
	}
}
