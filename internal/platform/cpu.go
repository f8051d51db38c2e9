package platform

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// HostCPU describes the processor running the build, for diagnostics.
func HostCPU() string {
	var feats []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX2, cpuid.AVX512F, cpuid.CLMUL, cpuid.ASIMD, cpuid.CRC32, cpuid.PMULL} {
		if cpuid.CPU.Supports(f) {
			feats = append(feats, strings.ToLower(f.String()))
		}
	}
	if len(feats) == 0 {
		return fmt.Sprintf("%s (%d cores)", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores)
	}
	return fmt.Sprintf("%s (%d cores; %s)", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, strings.Join(feats, " "))
}
