package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists cluster and task records in MySQL, for deployments
// that run the orchestrator across multiple hosts and need a shared view
// of cluster/task state rather than per-host JSON files.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL connection using dsn (a go-sql-driver/mysql
// data source name) and ensures the clusters/tasks tables exist.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: pinging mysql: %w", err)
	}
	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clusters (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			config_path TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			state VARCHAR(32) NOT NULL,
			failure_info JSON NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id VARCHAR(64) PRIMARY KEY,
			cluster_id VARCHAR(64) NOT NULL,
			pid INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			exit_code INT NULL,
			error TEXT NOT NULL,
			log_path TEXT NOT NULL,
			socket_path TEXT NOT NULL,
			attachable BOOLEAN NOT NULL,
			INDEX idx_tasks_cluster (cluster_id)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrating: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) SaveCluster(ctx context.Context, rec ClusterRecord) error {
	var failureInfo []byte
	if rec.FailureInfo != nil {
		var err error
		failureInfo, err = json.Marshal(rec.FailureInfo)
		if err != nil {
			return fmt.Errorf("store: marshaling failureInfo: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clusters (id, name, config_path, created_at, state, failure_info)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), config_path = VALUES(config_path),
			created_at = VALUES(created_at), state = VALUES(state),
			failure_info = VALUES(failure_info)`,
		rec.ID, rec.Name, rec.ConfigPath, rec.CreatedAt, string(rec.State), failureInfo)
	return err
}

func (s *MySQLStore) GetCluster(ctx context.Context, id string) (ClusterRecord, error) {
	var rec ClusterRecord
	var state string
	var failureInfo sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, config_path, created_at, state, failure_info
		FROM clusters WHERE id = ?`, id)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.ConfigPath, &rec.CreatedAt, &state, &failureInfo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ClusterRecord{}, ErrNotFound
		}
		return ClusterRecord{}, err
	}
	rec.State = ClusterState(state)
	if failureInfo.Valid && failureInfo.String != "" {
		if err := json.Unmarshal([]byte(failureInfo.String), &rec.FailureInfo); err != nil {
			return ClusterRecord{}, fmt.Errorf("store: unmarshaling failureInfo: %w", err)
		}
	}
	return rec, nil
}

func (s *MySQLStore) DeleteCluster(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = ?`, id)
	return err
}

func (s *MySQLStore) ListClusters(ctx context.Context) ([]ClusterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, config_path, created_at, state, failure_info FROM clusters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClusterRecord
	for rows.Next() {
		var rec ClusterRecord
		var state string
		var failureInfo sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ConfigPath, &rec.CreatedAt, &state, &failureInfo); err != nil {
			return nil, err
		}
		rec.State = ClusterState(state)
		if failureInfo.Valid && failureInfo.String != "" {
			if err := json.Unmarshal([]byte(failureInfo.String), &rec.FailureInfo); err != nil {
				return nil, fmt.Errorf("store: unmarshaling failureInfo: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *MySQLStore) SaveTask(ctx context.Context, rec TaskRecord) error {
	var exitCode sql.NullInt64
	if rec.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*rec.ExitCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, cluster_id, pid, status, exit_code, error, log_path, socket_path, attachable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			cluster_id = VALUES(cluster_id), pid = VALUES(pid), status = VALUES(status),
			exit_code = VALUES(exit_code), error = VALUES(error), log_path = VALUES(log_path),
			socket_path = VALUES(socket_path), attachable = VALUES(attachable)`,
		rec.TaskID, rec.ClusterID, rec.PID, string(rec.Status), exitCode, rec.Error,
		rec.LogPath, rec.SocketPath, rec.Attachable)
	return err
}

func (s *MySQLStore) GetTask(ctx context.Context, taskID string) (TaskRecord, error) {
	var rec TaskRecord
	var status string
	var exitCode sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, cluster_id, pid, status, exit_code, error, log_path, socket_path, attachable
		FROM tasks WHERE task_id = ?`, taskID)
	if err := row.Scan(&rec.TaskID, &rec.ClusterID, &rec.PID, &status, &exitCode, &rec.Error,
		&rec.LogPath, &rec.SocketPath, &rec.Attachable); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskRecord{}, ErrNotFound
		}
		return TaskRecord{}, err
	}
	rec.Status = TaskStatus(status)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		rec.ExitCode = &v
	}
	return rec, nil
}

func (s *MySQLStore) ListTasksForCluster(ctx context.Context, clusterID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, cluster_id, pid, status, exit_code, error, log_path, socket_path, attachable
		FROM tasks WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var status string
		var exitCode sql.NullInt64
		if err := rows.Scan(&rec.TaskID, &rec.ClusterID, &rec.PID, &status, &exitCode, &rec.Error,
			&rec.LogPath, &rec.SocketPath, &rec.Attachable); err != nil {
			return nil, err
		}
		rec.Status = TaskStatus(status)
		if exitCode.Valid {
			v := int(exitCode.Int64)
			rec.ExitCode = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *MySQLStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	return err
}
