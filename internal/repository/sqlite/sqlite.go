// Package sqlite implements repository.CodeStore on an embedded SQLite file.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no C compiler, trivial cross-builds,
// and it lets us register Go functions as SQL functions (see distance_m).
//
// SPATIAL QUERIES WITHOUT AN EXTENSION:
// SQLite has no PostGIS. Radius queries are done in two steps inside one
// statement:
//  1. a bounding-box prefilter on the indexed latitude/longitude columns
//  2. an exact haversine test via the distance_m SQL function, which is
//     geo.DistanceMeters registered with the driver
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"github.com/sakif/stallcode/internal/geo"
)

// distanceFunc is the SQL name of the haversine function.
const distanceFunc = "distance_m"

// REGISTERING A SQL FUNCTION:
// modernc keeps registered functions in a driver-wide table that every new
// connection picks up, so this must happen once, before the first Open.
// init() gives us exactly that.
func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(distanceFunc, 4, distanceMeters); err != nil {
		panic(fmt.Sprintf("sqlite: registering %s: %v", distanceFunc, err))
	}
}

// distanceMeters adapts geo.DistanceMeters to the driver's calling convention.
func distanceMeters(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var f [4]float64
	for i, a := range args {
		v, err := toFloat(a)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", distanceFunc, i+1, err)
		}
		f[i] = v
	}
	return geo.DistanceMeters(f[0], f[1], f[2], f[3]), nil
}

// toFloat accepts the numeric storage classes SQLite hands to functions.
func toFloat(v driver.Value) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// DB wraps a sql.DB connection pool and implements repository.CodeStore.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/stallcode.db"  → file-based database (persistent)
//   - ":memory:"           → in-memory database (tests)
//
// IN-MEMORY POOLS:
// Every connection to ":memory:" gets its own empty database. We pin the
// pool to a single connection so all queries see the same tables.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a vote is being written.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Votes reference codes; SQLite only enforces that with this pragma.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	// Concurrent writers wait instead of failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PingContext checks the database is reachable.
func (db *DB) PingContext(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// migrate creates the schema. Every statement is idempotent, so it runs on
// every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS codes (
			id          TEXT PRIMARY KEY,
			code        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			latitude    REAL NOT NULL,
			longitude   REAL NOT NULL,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			vote_score  INTEGER NOT NULL DEFAULT 0,
			device_id   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_codes_lat_lon ON codes(latitude, longitude);
		CREATE INDEX IF NOT EXISTS idx_codes_code ON codes(code);
	`)
	if err != nil {
		return fmt.Errorf("creating codes table: %w", err)
	}

	// One row per (code, device): the ledger's core invariant lives here too.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS votes (
			id         TEXT PRIMARY KEY,
			code_id    TEXT NOT NULL REFERENCES codes(id) ON DELETE CASCADE,
			device_id  TEXT NOT NULL,
			value      INTEGER NOT NULL CHECK (value IN (-1, 1)),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (code_id, device_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating votes table: %w", err)
	}

	return nil
}
