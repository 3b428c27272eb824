package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Paths excluded from exports, relative to the workspace root.
var exportExcludes = []string{".git", "node_modules", filepath.Join(".elisa", "logs")}

// ExportZip streams a ZIP of the workspace to w, excluding .git/,
// node_modules/, and .elisa/logs/.
func ExportZip(dir string, w io.Writer) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		for _, excl := range exportExcludes {
			if rel == excl || strings.HasPrefix(rel, excl+string(filepath.Separator)) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to export workspace: %w", err)
	}
	return nil
}
