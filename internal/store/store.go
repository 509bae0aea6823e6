// Package store implements the persisted cluster/task record contract
// (spec.md §6 "Persisted state layout") with three implementations: an
// in-memory store for tests, a single-host JSON-file store matching the
// spec's literal <storageDir>/clusters/<clusterId>.json layout, and a
// MySQL-backed store for multi-host deployments.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("store: record not found")

// ClusterState mirrors the cluster lifecycle states from spec.md §3.
type ClusterState string

const (
	ClusterRunning   ClusterState = "running"
	ClusterStopping  ClusterState = "stopping"
	ClusterStopped   ClusterState = "stopped"
	ClusterCompleted ClusterState = "completed"
	ClusterFailed    ClusterState = "failed"
	ClusterKilled    ClusterState = "killed"
)

// ClusterRecord is the persisted representation of a Cluster.
type ClusterRecord struct {
	ID          string
	Name        string
	ConfigPath  string
	CreatedAt   int64
	State       ClusterState
	FailureInfo map[string]interface{} `json:"failureInfo,omitempty"`
}

// TaskStatus mirrors spec.md §3's TaskRecord.status.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskRecord is the persisted representation of a task.
type TaskRecord struct {
	TaskID      string
	ClusterID   string
	PID         int
	Status      TaskStatus
	ExitCode    *int
	Error       string
	LogPath     string
	SocketPath  string
	Attachable  bool
}

// ClusterStore persists ClusterRecords.
type ClusterStore interface {
	SaveCluster(ctx context.Context, rec ClusterRecord) error
	GetCluster(ctx context.Context, id string) (ClusterRecord, error)
	DeleteCluster(ctx context.Context, id string) error
	ListClusters(ctx context.Context) ([]ClusterRecord, error)
}

// TaskStore persists TaskRecords.
type TaskStore interface {
	SaveTask(ctx context.Context, rec TaskRecord) error
	GetTask(ctx context.Context, taskID string) (TaskRecord, error)
	ListTasksForCluster(ctx context.Context, clusterID string) ([]TaskRecord, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// Store is the combined contract most callers depend on.
type Store interface {
	ClusterStore
	TaskStore
}
