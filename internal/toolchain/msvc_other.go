//go:build !windows

package toolchain

func findMSVC() string { return "" }
