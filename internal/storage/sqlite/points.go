package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"geotrek-offline/internal/storage"
)

const pointColumns = `id, trek_id, lat, lng, accuracy, timestamp, notes, tags, photo`

// AddPoint saves a geotagged point.
func (s *Store) AddPoint(ctx context.Context, p storage.Point) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}
	timestamp := p.Timestamp
	if timestamp.IsZero() {
		timestamp = s.now()
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO points (trek_id, lat, lng, accuracy, timestamp, notes, tags, photo)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.TrekID, p.Lat, p.Lng, p.Accuracy, toMillis(timestamp), p.Notes, string(tags), p.Photo,
	)
	if err != nil {
		return 0, storage.Wrap("add point", err)
	}
	id, err := res.LastInsertId()
	return id, storage.Wrap("add point", err)
}

// GetPoint returns one saved point.
func (s *Store) GetPoint(ctx context.Context, id int64) (storage.Point, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Point{}, err
	}
	p, err := scanPoint(s.sqlDB.QueryRowContext(ctx, `SELECT `+pointColumns+` FROM points WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Point{}, storage.ErrNotFound
	}
	return p, storage.Wrap("get point", err)
}

// ListPoints returns saved points, newest first.
func (s *Store) ListPoints(ctx context.Context) ([]storage.Point, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+pointColumns+` FROM points ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, storage.Wrap("list points", err)
	}
	defer rows.Close()

	var points []storage.Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, storage.Wrap("list points", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list points", err)
	}
	return points, nil
}

// DeletePoint removes a saved point.
func (s *Store) DeletePoint(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM points WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap("delete point", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storage.Wrap("delete point", err)
	} else if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPoint(row rowScanner) (storage.Point, error) {
	var (
		p         storage.Point
		timestamp int64
		tags      string
	)
	if err := row.Scan(&p.ID, &p.TrekID, &p.Lat, &p.Lng, &p.Accuracy, &timestamp, &p.Notes, &tags, &p.Photo); err != nil {
		return storage.Point{}, err
	}
	p.Timestamp = fromMillis(timestamp)
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return storage.Point{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return p, nil
}
