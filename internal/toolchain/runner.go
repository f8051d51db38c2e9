package toolchain

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/qobs-build/qext/internal/msg"
)

// Runner executes a command in dir and returns its combined output.
type Runner interface {
	Run(dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	// Verbose echoes every command line before running it.
	Verbose bool
}

func (r ExecRunner) Run(dir, name string, args ...string) ([]byte, error) {
	if r.Verbose {
		msg.Info("%s", commandLine(name, args))
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func commandLine(name string, args []string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}

// ExecError is a failed tool invocation on one source file.
type ExecError struct {
	Command string
	File    string
	Output  []byte
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

func (e *ExecError) FailedSource() string { return e.File }
func (e *ExecError) Diagnostic() string   { return string(e.Output) }

// SplitFlags splits a shell-quoted flag string such as "-O2 -DNAME='a b'".
func SplitFlags(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return shellquote.Split(s)
}
