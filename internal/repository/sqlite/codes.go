package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository"
)

var _ repository.CodeStore = (*DB)(nil)

const codeColumns = `id, code, description, latitude, longitude, created_at, vote_score, device_id`

// withinRadius is the shared spatial predicate. Arguments, in order:
// minLat, maxLat, minLon, maxLon, centreLat, centreLon, radius.
const withinRadius = `latitude BETWEEN ? AND ?
	  AND longitude BETWEEN ? AND ?
	  AND distance_m(?, ?, latitude, longitude) <= ?`

func radiusArgs(center geo.Point, radiusMeters float64) []any {
	b := geo.RadiusBounds(center, radiusMeters)
	return []any{b.MinLat, b.MaxLat, b.MinLon, b.MaxLon, center.Lat, center.Lon, radiusMeters}
}

// FindWithinRadius returns every code within radiusMeters of center, in
// insertion order. Distance is NOT set; that is the caller's job.
func (db *DB) FindWithinRadius(ctx context.Context, center geo.Point, radiusMeters float64) ([]model.Code, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+codeColumns+`
		 FROM codes
		 WHERE `+withinRadius+`
		 ORDER BY rowid`,
		radiusArgs(center, radiusMeters)...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding codes within %.0fm: %w", radiusMeters, err)
	}
	defer rows.Close()

	codes := []model.Code{}
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning code row: %w", err)
		}
		codes = append(codes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating codes: %w", err)
	}

	return codes, nil
}

// FindDuplicateWithinRadius reports whether a code with exactly the same
// text exists within radiusMeters of center.
func (db *DB) FindDuplicateWithinRadius(ctx context.Context, code string, center geo.Point, radiusMeters float64) (bool, error) {
	args := append([]any{code}, radiusArgs(center, radiusMeters)...)

	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM codes
			WHERE code = ?
			  AND `+withinRadius+`
		)`,
		args...,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking duplicate %q: %w", code, err)
	}

	return exists, nil
}

// InsertCode stores a new code. The store owns ID, CreatedAt and the
// starting score, so whatever the caller put there is overwritten.
func (db *DB) InsertCode(ctx context.Context, code *model.Code) error {
	code.ID = xid.New().String()
	code.CreatedAt = time.Now().UTC()
	code.VoteScore = 0

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO codes (`+codeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		code.ID,
		code.Code,
		code.Description,
		code.Latitude,
		code.Longitude,
		code.CreatedAt,
		code.VoteScore,
		code.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting code: %w", err)
	}

	return nil
}

// GetCode retrieves a single code by ID.
func (db *DB) GetCode(ctx context.Context, id string) (*model.Code, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM codes WHERE id = ?`,
		id,
	)
	c, err := scanCode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("code", id)
		}
		return nil, fmt.Errorf("sqlite: getting code %s: %w", id, err)
	}
	return c, nil
}

// GetCodeOwner returns the device that submitted the code.
func (db *DB) GetCodeOwner(ctx context.Context, codeID string) (string, error) {
	var deviceID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT device_id FROM codes WHERE id = ?`,
		codeID,
	).Scan(&deviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apperror.NotFound("code", codeID)
		}
		return "", fmt.Errorf("sqlite: getting owner of code %s: %w", codeID, err)
	}
	return deviceID, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCode(s scanner) (*model.Code, error) {
	var c model.Code
	if err := s.Scan(
		&c.ID, &c.Code, &c.Description,
		&c.Latitude, &c.Longitude,
		&c.CreatedAt, &c.VoteScore, &c.DeviceID,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
