package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qobs-build/qext/internal/msg"
	"github.com/qobs-build/qext/internal/platform"
)

// NasmTool is the macro assembler accelerators need on x86.
const NasmTool = "nasm"

// Nasm assembles .asm sources.
type Nasm struct {
	Path    string
	Target  platform.Target
	WorkDir string
	ObjDir  string
	Runner  Runner
}

// FindNasm locates the macro assembler. It is only meaningful on x86.
func FindNasm(target platform.Target, lookPath func(string) (string, error)) (string, bool) {
	if !target.Arch.IsX86() {
		return "", false
	}
	path, err := lookPath(NasmTool)
	if err != nil {
		return "", false
	}
	return path, true
}

func (n *Nasm) Compile(sources, includes, args []string) ([]string, error) {
	objects := make([]string, 0, len(sources))
	for _, src := range sources {
		obj := filepath.Join(n.ObjDir, src+n.Target.ObjectSuffix())
		if err := os.MkdirAll(filepath.Dir(obj), 0755); err != nil {
			return objects, fmt.Errorf("failed to create object directory: %w", err)
		}

		cmdArgs := make([]string, 0, len(args)+len(includes)+3)
		cmdArgs = append(cmdArgs, args...)
		for _, dir := range includes {
			// nasm before 2.14 concatenates -I verbatim, keep the separator
			if !strings.HasSuffix(dir, "/") {
				dir += "/"
			}
			cmdArgs = append(cmdArgs, "-I"+dir)
		}
		cmdArgs = append(cmdArgs, src, "-o", obj)

		msg.Step("ASM", src)
		out, err := n.Runner.Run(n.WorkDir, n.Path, cmdArgs...)
		if err != nil {
			return objects, &ExecError{Command: commandLine(n.Path, cmdArgs), File: src, Output: out, Err: err}
		}
		printOutput(out)
		objects = append(objects, obj)
	}
	return objects, nil
}
