package builder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// AsmIncludeCopier copies every macro assembler include file from the
// include directories into the working directory.
//
// Older NASM releases (2.10 on manylinux2014) fail to open include files
// through -I, even ones next to the file being assembled. Copying them to
// the working directory works around it. This mutates the working
// directory, so two builds sharing one are not safe.
type AsmIncludeCopier struct {
	// Pattern selects the files to copy, "*.asm" when empty.
	Pattern string
}

func (c AsmIncludeCopier) Prepare(includeDirs []string, workDir string) error {
	pattern := c.Pattern
	if pattern == "" {
		pattern = "*.asm"
	}

	for _, dir := range includeDirs {
		src := dir
		if !filepath.IsAbs(src) {
			src = filepath.Join(workDir, dir)
		}
		matches, err := doublestar.Glob(os.DirFS(src), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("while globbing %s: %w", dir, err)
		}
		for _, match := range matches {
			if err := copyFile(filepath.Join(src, match), filepath.Join(workDir, filepath.Base(match))); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
