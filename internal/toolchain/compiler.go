package toolchain

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/qobs-build/qext/internal/msg"
	"github.com/qobs-build/qext/internal/platform"
)

var (
	commonCCompilers   = []string{"clang", "gcc", "icx", "icc", "cl"}
	commonCxxCompilers = []string{"clang++", "g++", "clang", "gcc", "icpx", "icx", "icpc", "icc", "cl"}
)

// FindCompiler attempts to find a suitable C++ (or C) compiler driver. CXX
// and CC in environ take precedence over a PATH search.
func FindCompiler(environ map[string]string, needCxx bool, lookPath func(string) (string, error)) string {
	cc := environ["CC"]
	cxx := environ["CXX"]

	if needCxx && cxx != "" {
		return cxx
	}
	if !needCxx && cc != "" {
		return cc
	}

	if cxx != "" {
		return cxx
	}
	if cc != "" {
		return cc
	}

	var compilersToTry []string
	if needCxx {
		compilersToTry = commonCxxCompilers
	} else {
		compilersToTry = commonCCompilers
	}

	for _, compiler := range compilersToTry {
		path, err := lookPath(compiler)
		if err == nil {
			return path
		}
	}

	return findMSVC()
}

// Compiler is a C/C++ compiler driver. It compiles batches, runs trial
// compiles for capability probes and links the module.
type Compiler struct {
	Path    string
	Vendor  platform.Vendor
	Target  platform.Target
	WorkDir string
	ObjDir  string
	Runner  Runner
}

func (c *Compiler) Driver() string { return c.Path }

func (c *Compiler) Identity() string {
	return c.Vendor.String() + ":" + c.Path
}

// Compile compiles each source into ObjDir, mirroring the source path.
func (c *Compiler) Compile(sources, includes, args []string) ([]string, error) {
	objects := make([]string, 0, len(sources))
	for _, src := range sources {
		obj := filepath.Join(c.ObjDir, src+c.Target.ObjectSuffix())
		if err := os.MkdirAll(filepath.Dir(obj), 0755); err != nil {
			return objects, fmt.Errorf("failed to create object directory: %w", err)
		}

		verb := "CXX"
		if strings.HasSuffix(src, ".c") {
			verb = "CC"
		}
		msg.Step(verb, src)

		cmdArgs := c.compileArgs(src, obj, includes, args)
		out, err := c.Runner.Run(c.WorkDir, c.Path, cmdArgs...)
		if err != nil {
			return objects, &ExecError{Command: commandLine(c.Path, cmdArgs), File: src, Output: out, Err: err}
		}
		printOutput(out)
		objects = append(objects, obj)
	}
	return objects, nil
}

// TrialCompile compiles src into objDir and reports only whether it worked.
func (c *Compiler) TrialCompile(src, objDir string, args []string) error {
	obj := filepath.Join(objDir, filepath.Base(src)+c.Target.ObjectSuffix())
	_, err := c.Runner.Run(objDir, c.Path, c.compileArgs(src, obj, nil, args)...)
	return err
}

func (c *Compiler) compileArgs(src, obj string, includes, args []string) []string {
	out := make([]string, 0, len(args)+len(includes)+6)
	switch c.Vendor {
	case platform.MSVC:
		out = append(out, "/nologo", "/EHsc")
		out = append(out, args...)
		for _, dir := range includes {
			out = append(out, "/I"+dir)
		}
		out = append(out, "/c", src, "/Fo"+obj)
	case platform.GNU, platform.MinGW:
		out = append(out, args...)
		for _, dir := range includes {
			out = append(out, "-I"+dir)
		}
		// a C++ driver would otherwise translate .c files as C++
		if strings.HasSuffix(src, ".c") {
			out = append(out, "-x", "c")
		}
		out = append(out, "-c", src, "-o", obj)
	default:
		panic("compileArgs: unreachable")
	}
	return out
}

// Link links objects into the loadable module out.
func (c *Compiler) Link(objects []string, out string, args, libraries []string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var cmdArgs []string
	switch c.Vendor {
	case platform.MSVC:
		cmdArgs = append(cmdArgs, "/nologo", "/LD")
		cmdArgs = append(cmdArgs, objects...)
		cmdArgs = append(cmdArgs, "/Fe"+out, "/link")
		cmdArgs = append(cmdArgs, args...)
		for _, lib := range libraries {
			cmdArgs = append(cmdArgs, lib+".lib")
		}
	case platform.GNU, platform.MinGW:
		if c.Vendor == platform.GNU && c.Target.OS == platform.Darwin {
			cmdArgs = append(cmdArgs, "-bundle", "-undefined", "dynamic_lookup")
		} else {
			cmdArgs = append(cmdArgs, "-shared")
		}
		cmdArgs = append(cmdArgs, "-o", out)
		cmdArgs = append(cmdArgs, objects...)
		cmdArgs = append(cmdArgs, args...)
		for _, lib := range libraries {
			cmdArgs = append(cmdArgs, "-l"+lib)
		}
	default:
		panic("Link: unreachable")
	}

	msg.Step("LINK", out)
	output, err := c.Runner.Run(c.WorkDir, c.Path, cmdArgs...)
	if err != nil {
		return &ExecError{Command: commandLine(c.Path, cmdArgs), File: out, Output: output, Err: err}
	}
	printOutput(output)
	return nil
}

func printOutput(out []byte) {
	if len(out) > 0 {
		(&msg.IndentWriter{Indent: "    ", W: msg.Output}).Write(out)
	}
}

// LookPath is exec.LookPath, named so callers can swap it in tests.
var LookPath = exec.LookPath
