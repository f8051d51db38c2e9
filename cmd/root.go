// qext [path], qext build [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/qobs-build/qext/internal/builder"
	"github.com/qobs-build/qext/internal/msg"
	"github.com/qobs-build/qext/internal/platform"
	"github.com/qobs-build/qext/internal/toolchain"
	"github.com/spf13/cobra"
)

var (
	flagWith        map[string]string
	flagOS          string
	flagArch        string
	flagExtraCflags string
	flagExtraLdflag string
	flagVerbose     bool
	flagVendor      EnumValue = NewEnumValue("auto", map[string]string{
		"auto":  "Detect from the compiler (default)",
		"gnu":   "GCC/Clang compatible driver",
		"msvc":  "Microsoft cl.exe",
		"mingw": "GCC compatible driver targeting Windows",
	})
)

// session is one invocation's explicit configuration: the environment is
// read here once and passed down, nothing below looks it up again.
type session struct {
	builder   *builder.Builder
	toolchain builder.Toolchain
}

func newSession(path string) *session {
	host, err := platform.Host()
	if err != nil {
		msg.Fatal("%v", err)
	}
	target := host
	if flagOS != "" {
		if target.OS, err = platform.ParseOS(flagOS); err != nil {
			msg.Fatal("%v", err)
		}
	}
	if flagArch != "" {
		if target.Arch, err = platform.ParseArch(flagArch); err != nil {
			msg.Fatal("%v", err)
		}
	}

	environ := builder.Environ(os.Environ())
	lookPath := toolchain.LookPath

	driver := toolchain.FindCompiler(environ, true, lookPath)
	vendor := platform.DetectVendor(driver, target.OS)
	if flagVendor.Value() != "auto" {
		if vendor, err = platform.ParseVendor(flagVendor.Value()); err != nil {
			msg.Fatal("%v", err)
		}
	}

	extraCompile, err := toolchain.SplitFlags(flagExtraCflags)
	if err != nil {
		msg.Fatal("invalid --extra-cflags: %v", err)
	}
	extraLink, err := toolchain.SplitFlags(flagExtraLdflag)
	if err != nil {
		msg.Fatal("invalid --extra-ldflags: %v", err)
	}

	b, err := builder.NewBuilderInDirectory(path, builder.Options{
		Target:       target,
		Vendor:       vendor,
		Requests:     flagWith,
		Environ:      environ,
		ExtraCompile: extraCompile,
		ExtraLink:    extraLink,
	})
	if err != nil {
		msg.Fatal("%v", err)
	}

	runner := toolchain.ExecRunner{Verbose: flagVerbose}
	tc := builder.Toolchain{Runner: runner, LookPath: lookPath}
	if driver != "" {
		tc.Compiler = &toolchain.Compiler{
			Path:    driver,
			Vendor:  vendor,
			Target:  target,
			WorkDir: b.Basedir(),
			ObjDir:  b.ObjDir(),
			Runner:  runner,
		}
	}
	if nasm, ok := toolchain.FindNasm(target, lookPath); ok {
		tc.Assembler = &toolchain.Nasm{
			Path:    nasm,
			Target:  target,
			WorkDir: b.Basedir(),
			ObjDir:  b.ObjDir(),
			Runner:  runner,
		}
	}

	return &session{builder: b, toolchain: tc}
}

func targetPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func doBuild(cmd *cobra.Command, args []string) {
	s := newSession(targetPath(args))
	msg.Info("host cpu: %s", platform.HostCPU())
	if _, err := s.builder.Build(s.toolchain); err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qext [package path]",
	Short: "Native extension builder",
	Long:  `Builds one loadable module from a C/C++ tree with optional assembly-accelerated dependencies`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [package path]",
	Short: "Build the module",
	Long:  `Build the module. If no package path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	// qext build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringToStringVarP(&flagWith, "with", "w", nil, "Dependency modes, e.g. --with isal=disable,zlib=system")
	cmd.Flags().StringVar(&flagOS, "os", "", "Target operating system (default: host)")
	cmd.Flags().StringVar(&flagArch, "arch", "", "Target architecture (default: host)")
	cmd.Flags().StringVar(&flagExtraCflags, "extra-cflags", "", "Extra compile flags, shell quoted")
	cmd.Flags().StringVar(&flagExtraLdflag, "extra-ldflags", "", "Extra link flags, shell quoted")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print every command line")
	cmd.Flags().Var(&flagVendor, "vendor", "Compiler vendor, one of "+flagVendor.HelpString())
	cmd.RegisterFlagCompletionFunc("vendor", flagVendor.CompletionFunc())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
