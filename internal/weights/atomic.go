package weights

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// atomicWriteFile writes data to a temp file beside path and renames it into
// place, so a crash mid-write never replaces a good file with a partial one.
// Retries follow a small bounded backoff, matching spec.md's IOError policy.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
		}
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			lastErr = fmt.Errorf("write temp file: %w", err)
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			lastErr = fmt.Errorf("rename temp file into place: %w", err)
			os.Remove(tmp)
			continue
		}
		return nil
	}
	return lastErr
}

// atomicSaveTensor implements the atomic save protocol from spec.md §4.2:
// encode, write to a .tmp file, verify by re-reading and recomputing the
// MD5, then rename. A failed verification removes the .tmp file and leaves
// the previous .bin untouched.
func atomicSaveTensor(binPath string, data [][]float32) (string, error) {
	buf := encodeTensor(data)
	expectedChecksum := checksumMD5(buf)

	tmp := binPath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return "", fmt.Errorf("write weight temp file: %w", err)
	}

	readBack, err := os.ReadFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("verify weight temp file: %w", err)
	}
	if checksumMD5(readBack) != expectedChecksum {
		os.Remove(tmp)
		return "", fmt.Errorf("weight checksum verification failed for %s", binPath)
	}

	if err := os.Rename(tmp, binPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename weight file into place: %w", err)
	}

	return expectedChecksum, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

func layerBinPath(dir, layerID string) string {
	return filepath.Join(dir, layerID+".weights.bin")
}

func layerMetaPath(dir, layerID string) string {
	return filepath.Join(dir, layerID+".weights.meta.json")
}
