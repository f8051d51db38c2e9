//go:build windows

package toolchain

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/heaths/go-vssetup"
)

// findMSVC returns the newest x64 cl.exe of any Visual Studio installation
func findMSVC() string {
	instances, err := vssetup.Instances(false)
	if err != nil {
		return ""
	}

	var candidates []string
	for _, instance := range instances {
		root, err := instance.InstallationPath()
		if err != nil {
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(root), "VC/Tools/MSVC/*/bin/Hostx64/x64/cl.exe", doublestar.WithFilesOnly())
		if err != nil {
			continue
		}
		for _, m := range matches {
			candidates = append(candidates, filepath.Join(root, filepath.FromSlash(m)))
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	// toolset directories are version numbers, the last one sorts newest
	slices.Sort(candidates)
	return candidates[len(candidates)-1]
}
