package weights

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// checkpointFileName embeds a Unix-nanosecond timestamp so checkpoints sort
// chronologically by name alone; spec.md leaves the on-disk naming scheme
// open, and this is the convention the rest of the package assumes.
func checkpointFileName(layerID string, timestampNano int64) string {
	return fmt.Sprintf("%s.checkpoint.%d.bin", layerID, timestampNano)
}

// listCheckpoints returns the checkpoint file names for layerID under dir,
// oldest first.
func listCheckpoints(dir, layerID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoint directory: %w", err)
	}
	prefix := layerID + ".checkpoint."
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".bin") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return checkpointTimestamp(names[i]) < checkpointTimestamp(names[j])
	})
	return names, nil
}

func checkpointTimestamp(name string) int64 {
	trimmed := strings.TrimSuffix(name, ".bin")
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 {
		return 0
	}
	ts, _ := strconv.ParseInt(trimmed[idx+1:], 10, 64)
	return ts
}

// saveCheckpoint writes a new checkpoint for layerID and prunes old ones
// beyond maxCheckpoints, oldest first.
func saveCheckpoint(dir, layerID string, data [][]float32, timestampNano int64, maxCheckpoints int) (string, error) {
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	name := checkpointFileName(layerID, timestampNano)
	path := filepath.Join(dir, name)
	if _, err := atomicSaveTensor(path, data); err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", name, err)
	}

	if err := pruneCheckpoints(dir, layerID, maxCheckpoints); err != nil {
		return name, err
	}
	return name, nil
}

func pruneCheckpoints(dir, layerID string, maxCheckpoints int) error {
	if maxCheckpoints <= 0 {
		return nil
	}
	names, err := listCheckpoints(dir, layerID)
	if err != nil {
		return err
	}
	if len(names) <= maxCheckpoints {
		return nil
	}
	toRemove := names[:len(names)-maxCheckpoints]
	for _, name := range toRemove {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune checkpoint %s: %w", name, err)
		}
	}
	return nil
}

// restoreCheckpoint loads the most recent checkpoint for layerID, or a
// specific one if name is non-empty.
func restoreCheckpoint(dir, layerID, name string) ([][]float32, error) {
	if name == "" {
		names, err := listCheckpoints(dir, layerID)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no checkpoints for layer %s", layerID)
		}
		name = names[len(names)-1]
	}
	buf, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	return decodeTensor(buf)
}
