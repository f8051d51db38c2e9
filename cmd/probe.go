// qext probe [--flag f]... [--header h]...
package cmd

import (
	"github.com/qobs-build/qext/internal/builder"
	"github.com/qobs-build/qext/internal/msg"
	"github.com/spf13/cobra"
)

var (
	probeFlags   []string
	probeHeaders []string
)

func doProbe(cmd *cobra.Command, args []string) {
	s := newSession(targetPath(args))
	if s.toolchain.Compiler == nil {
		msg.Fatal("no C/C++ compiler found (set CXX or install one)")
	}

	prober := builder.NewProber(s.toolchain.Compiler)
	defer prober.Close()
	for _, flag := range probeFlags {
		prober.SupportsFlag(flag)
	}
	for _, header := range probeHeaders {
		prober.HasHeader(header)
	}
}

var probeCmd = &cobra.Command{
	Use:   "probe [package path]",
	Short: "Ask the active compiler whether it accepts flags or headers",
	Args:  cobra.MaximumNArgs(1),
	Run:   doProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	addBuildFlags(probeCmd)
	probeCmd.Flags().StringArrayVar(&probeFlags, "flag", nil, "Flag to probe (repeatable)")
	probeCmd.Flags().StringArrayVar(&probeHeaders, "header", nil, "Header to probe (repeatable)")
}
