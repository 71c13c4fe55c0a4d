package lockspace

import (
	"fmt"
	"os"
)

// DefaultSpacesDir is where the kernel lock manager exposes its lock spaces.
const DefaultSpacesDir = "/sys/kernel/config/dlm/cluster/spaces"

// Dir lists lock spaces as the sub-directories of Path.
type Dir struct {
	Path string
}

// Range calls fn for each lock space directory until fn returns false.
// A missing directory means no lock space is active.
func (d Dir) Range(fn func(name string) bool) error {
	entries, err := os.ReadDir(d.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock spaces: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !fn(e.Name()) {
			break
		}
	}
	return nil
}
