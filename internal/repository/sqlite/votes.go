package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/model"
)

// FindVote returns the device's vote on a code, or (nil, nil) if it has none.
func (db *DB) FindVote(ctx context.Context, codeID, deviceID string) (*model.Vote, error) {
	var v model.Vote
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, code_id, device_id, value, created_at
		 FROM votes
		 WHERE code_id = ? AND device_id = ?`,
		codeID, deviceID,
	).Scan(&v.ID, &v.CodeID, &v.DeviceID, &v.Value, &v.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: finding vote on %s: %w", codeID, err)
	}
	return &v, nil
}

// InsertVote stores a first vote.
//
// CONSTRAINT ERRORS:
// The UNIQUE (code_id, device_id) index turns a racing second insert into
// apperror.ErrConflict; the foreign key turns a vote on a missing code into
// apperror.ErrNotFound.
func (db *DB) InsertVote(ctx context.Context, vote *model.Vote) error {
	vote.ID = xid.New().String()
	vote.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO votes (id, code_id, device_id, value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		vote.ID, vote.CodeID, vote.DeviceID, vote.Value, vote.CreatedAt,
	)
	if err != nil {
		switch constraintCode(err) {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperror.Conflict("vote", vote.CodeID)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return apperror.NotFound("code", vote.CodeID)
		}
		return fmt.Errorf("sqlite: inserting vote on %s: %w", vote.CodeID, err)
	}
	return nil
}

// UpdateVote flips an existing vote in place.
func (db *DB) UpdateVote(ctx context.Context, voteID string, value int) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE votes SET value = ? WHERE id = ?`,
		value, voteID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating vote %s: %w", voteID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("vote", voteID)
	}
	return nil
}

// RecomputeScore writes SUM(votes.value) back to the code and returns it.
//
// ATOMICITY:
// The read (SUM) and the write (SET) are one statement, so SQLite's write
// lock covers both. Two devices voting at once cannot overwrite each
// other's contribution the way a read-modify-write in Go could.
func (db *DB) RecomputeScore(ctx context.Context, codeID string) (int, error) {
	var score int
	err := db.conn.QueryRowContext(ctx,
		`UPDATE codes
		 SET vote_score = (SELECT COALESCE(SUM(value), 0) FROM votes WHERE code_id = ?)
		 WHERE id = ?
		 RETURNING vote_score`,
		codeID, codeID,
	).Scan(&score)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("code", codeID)
		}
		return 0, fmt.Errorf("sqlite: recomputing score of %s: %w", codeID, err)
	}
	return score, nil
}

// constraintCode extracts the extended SQLite result code, or 0.
func constraintCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}
