package trajectory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/errs"
	"github.com/sona-engine/agentdb/pkg/models"
)

func testConfig() config.TrajectoryConfig {
	return config.TrajectoryConfig{
		MemoryWindowSize:     2,
		BatchWriteSize:       2,
		MaxMetadataEntries:   1000,
		MaxConcurrentQueries: 4,
		FormatVersion:        2,
		LZ4Compression:       false,
	}
}

func traj(id string, createdAt int64, quality float64) models.Trajectory {
	return models.Trajectory{ID: id, Route: "route-a", Patterns: []string{"p1"}, Context: []string{"c1"}, CreatedAt: createdAt, Quality: quality}
}

func TestAddAndGetFromWindow(t *testing.T) {
	m, err := NewManager(t.TempDir(), testConfig(), nil, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Add(traj("t1", 1, 0.5)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := m.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("got id %s, want t1", got.ID)
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	m, _ := NewManager(t.TempDir(), testConfig(), nil, false)
	if err := m.Add(traj("t1", 1, 0.5)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add(traj("t1", 2, 0.5)); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
}

func TestAddRejectsOnReadOnly(t *testing.T) {
	m, _ := NewManager(t.TempDir(), testConfig(), nil, true)
	if err := m.Add(traj("t1", 1, 0.5)); !errors.Is(err, errs.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestWindowEvictionAndFlush(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, testConfig(), nil, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Add(traj("t1", 1, 0.5)); err != nil {
		t.Fatalf("Add t1: %v", err)
	}
	if err := m.Add(traj("t2", 2, 0.5)); err != nil {
		t.Fatalf("Add t2: %v", err)
	}
	if err := m.Add(traj("t3", 3, 0.5)); err != nil {
		t.Fatalf("Add t3: %v", err)
	}
	// window size 2: adding t3 evicts t1 into pending (pending len 1, no flush yet)
	stats := m.Stats()
	if stats.WindowSize != 2 {
		t.Errorf("expected window size 2, got %d", stats.WindowSize)
	}

	if err := m.Add(traj("t4", 4, 0.5)); err != nil {
		t.Fatalf("Add t4: %v", err)
	}
	// t2 evicted into pending -> pending reaches batchWriteSize=2 -> flush fires
	stats = m.Stats()
	if stats.PendingWrites != 0 {
		t.Errorf("expected flush to have drained pending, got %d", stats.PendingWrites)
	}
	if stats.DataFiles != 1 {
		t.Fatalf("expected one data file after flush, got %d", stats.DataFiles)
	}

	if _, err := os.Stat(filepath.Join(dir, dataFileName(0))); err != nil {
		t.Errorf("expected data_000000.bin to exist: %v", err)
	}

	// t1 was flushed; Get should read through to disk.
	got, err := m.Get("t1")
	if err != nil {
		t.Fatalf("Get t1 after flush: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("got %s, want t1", got.ID)
	}
}

func TestRecordRollbackDetectsLoop(t *testing.T) {
	m, _ := NewManager(t.TempDir(), testConfig(), nil, false)
	if err := m.RecordRollback("ckpt-1"); err != nil {
		t.Fatalf("first rollback: %v", err)
	}
	if err := m.RecordRollback("ckpt-1"); !errors.Is(err, errs.ErrRollbackLoop) {
		t.Errorf("expected rollback loop error, got %v", err)
	}
	if err := m.RecordRollback("ckpt-2"); err != nil {
		t.Errorf("expected different checkpoint to succeed: %v", err)
	}
}

func TestDeleteBaselineRequiresForce(t *testing.T) {
	m, _ := NewManager(t.TempDir(), testConfig(), nil, false)
	baseline := traj("t1", 1, 0.9)
	baseline.IsBaseline = true
	if err := m.Add(baseline); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Delete("t1", false); err == nil {
		t.Error("expected baseline delete without force to fail")
	}
	if err := m.Delete("t1", true); err != nil {
		t.Errorf("expected forced baseline delete to succeed: %v", err)
	}
}

func TestPruneRespectsFilters(t *testing.T) {
	m, _ := NewManager(t.TempDir(), testConfig(), nil, false)
	for i, q := range []float64{0.1, 0.2, 0.9} {
		tr := traj(string(rune('a'+i)), int64(i+1), q)
		if err := m.Add(tr); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	n, err := m.Prune(models.PruneFilter{HasQualityBelow: true, QualityBelow: 0.5})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
}

func TestCodecV1V2RoundTrip(t *testing.T) {
	batch := []models.Trajectory{traj("t1", 1, 0.5), traj("t2", 2, 0.6)}
	for _, version := range []int{1, 2} {
		data, err := encodeFile(version, batch, models.RollbackState{}, false)
		if err != nil {
			t.Fatalf("encodeFile v%d: %v", version, err)
		}
		decoded, err := decodeFile(data)
		if err != nil {
			t.Fatalf("decodeFile v%d: %v", version, err)
		}
		if len(decoded.Trajectories) != 2 {
			t.Fatalf("v%d: expected 2 trajectories, got %d", version, len(decoded.Trajectories))
		}
		if decoded.ChecksumMismatch {
			t.Errorf("v%d: unexpected checksum mismatch", version)
		}
	}
}

func TestDecodeFileStopsAtCorruption(t *testing.T) {
	batch := []models.Trajectory{traj("t1", 1, 0.5), traj("t2", 2, 0.6)}
	data, err := encodeFile(1, batch, models.RollbackState{}, false)
	if err != nil {
		t.Fatalf("encodeFile: %v", err)
	}
	truncated := data[:len(data)-3]
	decoded, err := decodeFile(truncated)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if len(decoded.Trajectories) != 1 {
		t.Errorf("expected to preserve the first uncorrupted record, got %d", len(decoded.Trajectories))
	}
}

func TestDecodeFileFlagsChecksumMismatch(t *testing.T) {
	batch := []models.Trajectory{traj("t1", 1, 0.5)}
	data, err := encodeFile(2, batch, models.RollbackState{}, false)
	if err != nil {
		t.Fatalf("encodeFile: %v", err)
	}
	data[len(data)-1] ^= 0xFF // corrupt rollback JSON tail, not the checksum itself
	decoded, err := decodeFile(data)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if !decoded.ChecksumMismatch {
		t.Error("expected checksum mismatch to be detected")
	}
}

func TestCompressedRecordRoundTrip(t *testing.T) {
	batch := []models.Trajectory{traj("t1", 1, 0.5)}
	data, err := encodeFile(2, batch, models.RollbackState{}, true)
	if err != nil {
		t.Fatalf("encodeFile: %v", err)
	}
	decoded, err := decodeFile(data)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if len(decoded.Trajectories) != 1 || decoded.Trajectories[0].ID != "t1" {
		t.Errorf("unexpected decode result: %+v", decoded.Trajectories)
	}
}
