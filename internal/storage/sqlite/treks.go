package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"geotrek-offline/internal/storage"
)

// CreateTrek starts an empty trek record.
func (s *Store) CreateTrek(ctx context.Context, startTime time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `INSERT INTO treks (start_time) VALUES (?)`, toMillis(startTime))
	if err != nil {
		return 0, storage.Wrap("create trek", err)
	}
	id, err := res.LastInsertId()
	return id, storage.Wrap("create trek", err)
}

// AppendTrekVertex adds v after the last recorded vertex of trek id.
func (s *Store) AppendTrekVertex(ctx context.Context, id int64, v storage.TrekVertex) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO trek_vertices (trek_id, seq, lat, lng)
		 VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM trek_vertices WHERE trek_id = ?), ?, ?)`,
		id, id, v.Lat, v.Lng,
	)
	return storage.Wrap("append trek vertex", err)
}

// FinishTrek writes the final name, end time, distance and full path.
func (s *Store) FinishTrek(ctx context.Context, trek storage.Trek) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("finish trek", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE treks SET name = ?, end_time = ?, distance = ? WHERE id = ?`,
		strings.TrimSpace(trek.Name), toMillis(trek.EndTime), trek.Distance, trek.ID,
	)
	if err != nil {
		return storage.Wrap("finish trek", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storage.Wrap("finish trek", err)
	} else if n == 0 {
		return storage.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trek_vertices WHERE trek_id = ?`, trek.ID); err != nil {
		return storage.Wrap("finish trek", err)
	}
	for i, v := range trek.Path {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trek_vertices (trek_id, seq, lat, lng) VALUES (?, ?, ?, ?)`,
			trek.ID, i, v.Lat, v.Lng,
		); err != nil {
			return storage.Wrap("finish trek", err)
		}
	}
	return storage.Wrap("finish trek", tx.Commit())
}

// GetTrek returns a trek with its path.
func (s *Store) GetTrek(ctx context.Context, id int64) (storage.Trek, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Trek{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, start_time, end_time, distance, synced FROM treks WHERE id = ?`, id)
	trek, err := scanTrek(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Trek{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Trek{}, storage.Wrap("get trek", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT lat, lng FROM trek_vertices WHERE trek_id = ? ORDER BY seq`, id)
	if err != nil {
		return storage.Trek{}, storage.Wrap("get trek path", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v storage.TrekVertex
		if err := rows.Scan(&v.Lat, &v.Lng); err != nil {
			return storage.Trek{}, storage.Wrap("get trek path", err)
		}
		trek.Path = append(trek.Path, v)
	}
	if err := rows.Err(); err != nil {
		return storage.Trek{}, storage.Wrap("get trek path", err)
	}
	return trek, nil
}

// ListTreks returns trek headers, newest first. Paths are not loaded.
func (s *Store) ListTreks(ctx context.Context) ([]storage.Trek, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, start_time, end_time, distance, synced FROM treks ORDER BY start_time DESC, id DESC`)
	if err != nil {
		return nil, storage.Wrap("list treks", err)
	}
	defer rows.Close()

	var treks []storage.Trek
	for rows.Next() {
		trek, err := scanTrek(rows)
		if err != nil {
			return nil, storage.Wrap("list treks", err)
		}
		treks = append(treks, trek)
	}
	return treks, storage.Wrap("list treks", rows.Err())
}

func scanTrek(row rowScanner) (storage.Trek, error) {
	var (
		trek             storage.Trek
		startAt, endedAt int64
	)
	if err := row.Scan(&trek.ID, &trek.Name, &startAt, &endedAt, &trek.Distance, &trek.Synced); err != nil {
		return storage.Trek{}, err
	}
	trek.StartTime = fromMillis(startAt)
	trek.EndTime = fromMillis(endedAt)
	return trek, nil
}
