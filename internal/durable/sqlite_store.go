// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/enginemgr/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

// SqliteStore persists instances in a single SQLite table.
// The full record is stored as JSON; indexed columns exist for List filtering.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the instance database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("instance store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		instance_id TEXT PRIMARY KEY,
		orchestrator TEXT NOT NULL,
		status TEXT NOT NULL,
		parent_id TEXT,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		version INTEGER NOT NULL,
		body_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_instances_status_created ON instances(status, created_at_ms);
	CREATE INDEX IF NOT EXISTS idx_instances_orchestrator ON instances(orchestrator);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Create(ctx context.Context, inst *Instance) error {
	cp := inst.Clone()
	cp.Version = 1
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	// Insert, or overwrite only a terminal predecessor with the same ID.
	query := `
	INSERT INTO instances (instance_id, orchestrator, status, parent_id, created_at_ms, updated_at_ms, version, body_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(instance_id) DO UPDATE SET
		orchestrator = excluded.orchestrator,
		status = excluded.status,
		parent_id = excluded.parent_id,
		created_at_ms = excluded.created_at_ms,
		updated_at_ms = excluded.updated_at_ms,
		version = excluded.version,
		body_json = excluded.body_json
	WHERE instances.status IN (?, ?, ?)`

	res, err := s.DB.ExecContext(ctx, query,
		cp.ID, cp.Orchestrator, string(cp.Status), nullString(cp.ParentID),
		cp.CreatedAt.UnixMilli(), cp.UpdatedAt.UnixMilli(), cp.Version, string(body),
		string(terminalStatuses[0]), string(terminalStatuses[1]), string(terminalStatuses[2]),
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInstanceExists
	}
	inst.Version = 1
	return nil
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*Instance, error) {
	var body string
	var version int64
	err := s.DB.QueryRowContext(ctx, "SELECT body_json, version FROM instances WHERE instance_id = ?", id).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeInstance(body, version)
}

func (s *SqliteStore) Update(ctx context.Context, id string, fn func(*Instance) error) (*Instance, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		prev := cur.Version
		if err := fn(cur); err != nil {
			return nil, err
		}
		cur.ID = id
		cur.Version = prev + 1
		body, err := json.Marshal(cur)
		if err != nil {
			return nil, fmt.Errorf("marshal instance: %w", err)
		}

		res, err := s.DB.ExecContext(ctx, `
		UPDATE instances SET
			orchestrator = ?, status = ?, parent_id = ?, updated_at_ms = ?, version = ?, body_json = ?
		WHERE instance_id = ? AND version = ?`,
			cur.Orchestrator, string(cur.Status), nullString(cur.ParentID), cur.UpdatedAt.UnixMilli(),
			cur.Version, string(body), id, prev,
		)
		if err != nil {
			return nil, fmt.Errorf("update instance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return cur, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, ErrConflict
}

func (s *SqliteStore) List(ctx context.Context, q Query) ([]*Instance, error) {
	var where []string
	var args []any
	if len(q.Statuses) > 0 {
		ph := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if q.Orchestrator != "" {
		where = append(where, "orchestrator = ?")
		args = append(args, q.Orchestrator)
	}
	if !q.CreatedFrom.IsZero() {
		where = append(where, "created_at_ms >= ?")
		args = append(args, q.CreatedFrom.UnixMilli())
	}
	if !q.CreatedTo.IsZero() {
		where = append(where, "created_at_ms <= ?")
		args = append(args, q.CreatedTo.UnixMilli())
	}

	query := "SELECT body_json, version FROM instances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at_ms ASC, instance_id ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Instance
	for rows.Next() {
		var body string
		var version int64
		if err := rows.Scan(&body, &version); err != nil {
			return nil, err
		}
		inst, err := decodeInstance(body, version)
		if err != nil {
			return nil, err
		}
		// Millisecond columns are coarse; re-check against full timestamps.
		if q.Matches(inst) {
			out = append(out, inst)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByCreation(out)
	return out, nil
}

func (s *SqliteStore) Delete(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM instances WHERE instance_id = ?", id)
	return err
}

func decodeInstance(body string, version int64) (*Instance, error) {
	var inst Instance
	if err := json.Unmarshal([]byte(body), &inst); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	inst.Version = version
	return &inst, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*SqliteStore)(nil)
