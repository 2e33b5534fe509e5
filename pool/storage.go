package pool

import (
	"os"
	"path/filepath"
)

// persistedStatePath returns the opaque on-disk location for a persistent
// context's checkpoint: one directory per id, a single state.json inside
// it (spec §6 "Persistent context storage layout").
func persistedStatePath(root, id string) string {
	return filepath.Join(root, id, "state.json")
}

func loadPersistedState(root, id string) ([]byte, error) {
	return os.ReadFile(persistedStatePath(root, id))
}

func persistState(root, id string, state []byte) error {
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "state.json"), state, 0o644)
}
