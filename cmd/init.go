// qext init [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/qext/internal/builder"
	"github.com/qobs-build/qext/internal/msg"
	"github.com/spf13/cobra"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	} else {
		msg.Warn("%s already exists, leaving it alone", filepath.ToSlash(path))
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "qext"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn writes the default manifest and a .gitignore into dir
func initIn(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", dir, err)
	}

	writefile(string(builder.DefaultManifest), dir, builder.ManifestFile)

	// .gitignore
	writefile(`build/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("Edit %s, then run %s to build or %s to check the configuration.\n",
		builder.ManifestFile,
		color.HiCyanString(programName+" "+dir),
		color.HiCyanString(programName+" config "+dir))
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default Extension.toml",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(targetPath(args))
	},
}

func init() {
	// qext init subcommand
	rootCmd.AddCommand(initCmd)
}
