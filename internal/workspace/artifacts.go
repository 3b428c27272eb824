package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/elisa-dev/elisa/internal/nugget"
)

// WriteArtifacts persists the canonical spec files into the workspace root at
// session start. All files use 2-space indented JSON.
func WriteArtifacts(dir string, spec *nugget.Spec) error {
	files := map[string]any{
		"nugget.json":    spec.Nugget,
		"workspace.json": map[string]any{"workflow": spec.Workflow, "devices": spec.Devices},
		"skills.json":    emptySlice(spec.Skills),
		"rules.json":     emptySlice(spec.Rules),
		"portals.json":   emptySlice(spec.Portals),
	}
	for name, value := range files {
		if err := writeJSON(filepath.Join(dir, name), value); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// emptySlice keeps zero-length lists as [] rather than null in the output.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
