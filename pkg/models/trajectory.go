// Package models contains the data-model types shared across the learning
// engine's components, mirroring the way the teacher's pkg/models package
// centralized wire-level types for the agent collective.
package models

// Trajectory is a single recorded execution of a reasoning path together
// with the quality of its outcome.
type Trajectory struct {
	ID        string   `json:"id"`
	Route     string   `json:"route"`
	Patterns  []string `json:"patterns"`
	Context   []string `json:"context"`
	CreatedAt int64    `json:"createdAt"` // monotonic milliseconds
	Quality   float64  `json:"quality"`
	Reward    *float64 `json:"reward,omitempty"`
	IsBaseline bool    `json:"isBaseline,omitempty"`
}

// TrajectoryMetadata tracks where a trajectory lives: in the memory window
// (FileIndex == -1) or flushed to a data file at (FileIndex, Offset, Size).
type TrajectoryMetadata struct {
	ID         string `json:"id"`
	Route      string `json:"route"`
	Quality    float64 `json:"quality"`
	CreatedAt  int64  `json:"createdAt"`
	FileIndex  int    `json:"fileIndex"`
	Offset     int64  `json:"offset"`
	Size       int64  `json:"size"`
	IsBaseline bool   `json:"isBaseline,omitempty"`
}

// RollbackState records the last checkpoint weights were reverted to, to
// guard against rollback loops.
type RollbackState struct {
	LastCheckpointID string `json:"lastCheckpointId,omitempty"`
	LastAt           int64  `json:"lastAt,omitempty"`
	Count            int    `json:"count"`
}

// DataFileEntry summarizes one on-disk trajectory data file for index.json.
type DataFileEntry struct {
	FileIndex       int   `json:"fileIndex"`
	TrajectoryCount int   `json:"trajectoryCount"`
	SizeBytes       int64 `json:"sizeBytes"`
	Oldest          int64 `json:"oldest"`
	Newest          int64 `json:"newest"`
}

// StreamIndex is the persisted index.json describing the trajectory stream.
type StreamIndex struct {
	Version             int                   `json:"version"`
	FormatVersion       int                   `json:"formatVersion"`
	TotalTrajectories   int                   `json:"totalTrajectories"`
	DataFiles           []DataFileEntry       `json:"dataFiles"`
	Metadata            []TrajectoryMetadata  `json:"metadata"`
	BaselineCheckpointIDs []string            `json:"baselineCheckpointIds,omitempty"`
}

// PruneFilter selects trajectories for deletion by prune().
type PruneFilter struct {
	OlderThan         int64
	QualityBelow      float64
	HasQualityBelow   bool
	Route             string
	MaxDelete         int
	PreserveBaselines bool
}
