package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sona-engine/agentdb/pkg/models"
)

const rollbackStateFileName = "rollback_state.json"

func loadRollbackState(dir string) (models.RollbackState, error) {
	buf, err := os.ReadFile(filepath.Join(dir, rollbackStateFileName))
	if os.IsNotExist(err) {
		return models.RollbackState{}, nil
	}
	if err != nil {
		return models.RollbackState{}, fmt.Errorf("read rollback state: %w", err)
	}
	var rb models.RollbackState
	if err := json.Unmarshal(buf, &rb); err != nil {
		return models.RollbackState{}, fmt.Errorf("unmarshal rollback state: %w", err)
	}
	return rb, nil
}

func saveRollbackState(dir string, rb models.RollbackState) error {
	buf, err := json.MarshalIndent(rb, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rollback state: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, rollbackStateFileName), buf)
}
