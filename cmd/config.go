// qext config [path]
package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/qext/internal/builder"
	"github.com/qobs-build/qext/internal/msg"
	"github.com/qobs-build/qext/internal/platform"
	"github.com/spf13/cobra"
)

func doConfig(cmd *cobra.Command, args []string) {
	s := newSession(targetPath(args))
	msg.Info("host cpu: %s", platform.HostCPU())

	plan, err := s.builder.Plan(s.toolchain)
	if err != nil {
		msg.Fatal("%v", err)
	}

	fmt.Println(color.HiCyanString("Final build configuration:"))
	for _, name := range plan.Config.Names() {
		opt, _ := plan.Config.Option(name)
		line := fmt.Sprintf("  %s: %s", name, opt.Resolved)
		if opt.Constraint != "" {
			line += " (" + opt.Constraint + ")"
		}
		fmt.Println(line)
	}

	fmt.Println(color.HiCyanString("Sources:"))
	for _, d := range []builder.Dialect{builder.CXX, builder.C, builder.MacroAssembly, builder.NativeAssembly} {
		fmt.Printf("  %s: %d\n", d, len(plan.Sources.ByDialect(d)))
	}
	fmt.Printf("  includes: %s\n", strings.Join(plan.Sources.Includes, " "))

	fmt.Println(color.HiCyanString("Arguments:"))
	fmt.Printf("  C++:  %s\n", strings.Join(plan.Args.For(builder.CXX), " "))
	fmt.Printf("  C:    %s\n", strings.Join(plan.Args.For(builder.C), " "))
	fmt.Printf("  link: %s\n", strings.Join(plan.Args.Link(), " "))
	if libs := append(plan.Args.Libraries(), plan.Sources.Links...); len(libs) > 0 {
		fmt.Printf("  libraries: %s\n", strings.Join(libs, " "))
	}

	fmt.Println(color.HiCyanString("Probes:"))
	for _, p := range plan.Probes {
		answer := color.HiGreenString("yes")
		if !p.Supported {
			answer = color.YellowString("no")
		}
		fmt.Printf("  %s %s: %s\n", p.Kind, p.Key, answer)
	}
}

var configCmd = &cobra.Command{
	Use:   "config [package path]",
	Short: "Resolve dependencies and print the build plan without compiling",
	Args:  cobra.MaximumNArgs(1),
	Run:   doConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	addBuildFlags(configCmd)
}
