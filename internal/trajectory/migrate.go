package trajectory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sona-engine/agentdb/internal/errs"
)

// MigrateOptions controls Manager.Migrate.
type MigrateOptions struct {
	DryRun bool
	Backup bool
}

// Migrate rewrites every data file to targetVersion, decoding each with its
// current version's reader and re-encoding in the target format. v1->v2 is
// currently a no-op transform of the records themselves; only the container
// format changes.
func (m *Manager) Migrate(targetVersion int, opts MigrateOptions) error {
	if m.readOnly && !opts.DryRun {
		return fmt.Errorf("migrate: %w", errs.ErrReadOnly)
	}

	m.mu.RLock()
	files := make([]int, len(m.index.DataFiles))
	for i, df := range m.index.DataFiles {
		files[i] = df.FileIndex
	}
	rollbackSnapshot := m.rollback
	m.mu.RUnlock()

	for _, fileIndex := range files {
		path := filepath.Join(m.dir, dataFileName(fileIndex))
		buf, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", path, err)
		}
		decoded, err := decodeFile(buf)
		if err != nil {
			return fmt.Errorf("migrate: decode %s: %w", path, err)
		}
		if decoded.Version == targetVersion {
			continue
		}

		if opts.Backup {
			if err := os.WriteFile(path+".bak", buf, 0o644); err != nil {
				return fmt.Errorf("migrate: backup %s: %w", path, err)
			}
		}

		reencoded, err := encodeFile(targetVersion, decoded.Trajectories, rollbackSnapshot, m.cfg.LZ4Compression)
		if err != nil {
			return fmt.Errorf("migrate: re-encode %s: %w", path, err)
		}

		if opts.DryRun {
			continue
		}
		if err := atomicWriteFile(path, reencoded); err != nil {
			return fmt.Errorf("migrate: write %s: %w", path, err)
		}
	}

	if opts.DryRun {
		return nil
	}

	m.mu.Lock()
	m.cfg.FormatVersion = targetVersion
	m.index.FormatVersion = targetVersion
	idx := m.index
	m.mu.Unlock()

	return saveIndex(m.dir, idx)
}
