// Package postgres implements repository.CodeStore on PostgreSQL + PostGIS.
//
// The spatial work is done by PostGIS: both radius queries use ST_DWithin
// on geography values, which measures in metres on the spheroid and can
// use the GiST expression index created by Migrate.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository"
)

var _ repository.CodeStore = (*DB)(nil)

// Postgres error codes we translate.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// DB implements repository.CodeStore with sqlx over lib/pq.
type DB struct {
	conn *sqlx.DB
}

// New connects to dsn (a lib/pq connection string or URL).
func New(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	return &DB{conn: conn}, nil
}

// NewFromDB wraps an existing pool. Tests pass a sqlmock connection here.
func NewFromDB(conn *sql.DB) *DB {
	return &DB{conn: sqlx.NewDb(conn, "postgres")}
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PingContext checks the server is reachable.
func (db *DB) PingContext(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate creates the schema if it does not exist. PostGIS must be
// installable by the connecting role.
func (db *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS codes (
			id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
			code        VARCHAR(10) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			latitude    DOUBLE PRECISION NOT NULL,
			longitude   DOUBLE PRECISION NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			vote_score  INTEGER NOT NULL DEFAULT 0,
			device_id   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_codes_geog
			ON codes USING GIST ((ST_MakePoint(longitude, latitude)::geography))`,
		`CREATE TABLE IF NOT EXISTS votes (
			id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
			code_id    TEXT NOT NULL REFERENCES codes(id) ON DELETE CASCADE,
			device_id  TEXT NOT NULL,
			value      SMALLINT NOT NULL CHECK (value IN (-1, 1)),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (code_id, device_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrating: %w", err)
		}
	}
	return nil
}

const codeColumns = `id, code, description, latitude, longitude, created_at, vote_score, device_id`

// FindWithinRadius returns every code within radiusMeters of center, in
// creation order.
func (db *DB) FindWithinRadius(ctx context.Context, center geo.Point, radiusMeters float64) ([]model.Code, error) {
	codes := []model.Code{}
	err := db.conn.SelectContext(ctx, &codes,
		`SELECT `+codeColumns+`
		 FROM codes
		 WHERE ST_DWithin(ST_MakePoint(longitude, latitude)::geography, ST_MakePoint($1, $2)::geography, $3)
		 ORDER BY created_at, id`,
		center.Lon, center.Lat, radiusMeters,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: finding codes within %.0fm: %w", radiusMeters, err)
	}
	return codes, nil
}

// FindDuplicateWithinRadius reports whether the same code text exists
// within radiusMeters of center.
func (db *DB) FindDuplicateWithinRadius(ctx context.Context, code string, center geo.Point, radiusMeters float64) (bool, error) {
	var exists bool
	err := db.conn.GetContext(ctx, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM codes
			WHERE code = $1
			  AND ST_DWithin(ST_MakePoint(longitude, latitude)::geography, ST_MakePoint($2, $3)::geography, $4)
		)`,
		code, center.Lon, center.Lat, radiusMeters,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: checking duplicate %q: %w", code, err)
	}
	return exists, nil
}

// InsertCode stores a new code; Postgres assigns id and created_at.
func (db *DB) InsertCode(ctx context.Context, code *model.Code) error {
	code.VoteScore = 0
	err := db.conn.QueryRowxContext(ctx,
		`INSERT INTO codes (code, description, latitude, longitude, device_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		code.Code, code.Description, code.Latitude, code.Longitude, code.DeviceID,
	).Scan(&code.ID, &code.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: inserting code: %w", err)
	}
	return nil
}

// GetCode retrieves a single code by ID.
func (db *DB) GetCode(ctx context.Context, id string) (*model.Code, error) {
	var c model.Code
	err := db.conn.GetContext(ctx, &c,
		`SELECT `+codeColumns+` FROM codes WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("code", id)
		}
		return nil, fmt.Errorf("postgres: getting code %s: %w", id, err)
	}
	return &c, nil
}

// GetCodeOwner returns the submitting device of a code.
func (db *DB) GetCodeOwner(ctx context.Context, codeID string) (string, error) {
	var owner string
	err := db.conn.GetContext(ctx, &owner,
		`SELECT device_id FROM codes WHERE id = $1`, codeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NotFound("code", codeID)
		}
		return "", fmt.Errorf("postgres: getting owner of code %s: %w", codeID, err)
	}
	return owner, nil
}

// FindVote returns the device's vote on a code, or (nil, nil).
func (db *DB) FindVote(ctx context.Context, codeID, deviceID string) (*model.Vote, error) {
	var v model.Vote
	err := db.conn.GetContext(ctx, &v,
		`SELECT id, code_id, device_id, value, created_at
		 FROM votes
		 WHERE code_id = $1 AND device_id = $2`,
		codeID, deviceID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: finding vote on %s: %w", codeID, err)
	}
	return &v, nil
}

// InsertVote stores a first vote. A second vote for the same pair is
// apperror.ErrConflict; a vote on a missing code is apperror.ErrNotFound.
func (db *DB) InsertVote(ctx context.Context, vote *model.Vote) error {
	err := db.conn.QueryRowxContext(ctx,
		`INSERT INTO votes (code_id, device_id, value)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		vote.CodeID, vote.DeviceID, vote.Value,
	).Scan(&vote.ID, &vote.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case uniqueViolation:
				return apperror.Conflict("vote", vote.CodeID)
			case foreignKeyViolation:
				return apperror.NotFound("code", vote.CodeID)
			}
		}
		return fmt.Errorf("postgres: inserting vote on %s: %w", vote.CodeID, err)
	}
	return nil
}

// UpdateVote flips an existing vote in place.
func (db *DB) UpdateVote(ctx context.Context, voteID string, value int) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE votes SET value = $1 WHERE id = $2`, value, voteID)
	if err != nil {
		return fmt.Errorf("postgres: updating vote %s: %w", voteID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("vote", voteID)
	}
	return nil
}

// RecomputeScore sums the votes into the code in one statement and
// returns the new score.
func (db *DB) RecomputeScore(ctx context.Context, codeID string) (int, error) {
	var score int
	err := db.conn.GetContext(ctx, &score,
		`UPDATE codes
		 SET vote_score = (SELECT COALESCE(SUM(value), 0) FROM votes WHERE code_id = $1)
		 WHERE id = $1
		 RETURNING vote_score`,
		codeID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NotFound("code", codeID)
		}
		return 0, fmt.Errorf("postgres: recomputing score of %s: %w", codeID, err)
	}
	return score, nil
}
