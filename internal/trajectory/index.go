package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sona-engine/agentdb/pkg/models"
)

const indexFileName = "index.json"

func loadIndex(dir string, formatVersion int) (*models.StreamIndex, error) {
	buf, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if os.IsNotExist(err) {
		return &models.StreamIndex{Version: 1, FormatVersion: formatVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx models.StreamIndex
	if err := json.Unmarshal(buf, &idx); err != nil {
		return nil, fmt.Errorf("unmarshal index: %w", err)
	}
	return &idx, nil
}

func saveIndex(dir string, idx *models.StreamIndex) error {
	buf, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(dir, indexFileName), buf); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

func dataFileName(fileIndex int) string {
	return fmt.Sprintf("data_%06d.bin", fileIndex)
}
