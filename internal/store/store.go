// Package store provides the SQLite-backed gateway for soil-moisture records.
// The gateway owns the single database connection; every operation takes the
// gateway lock for its full duration, which is the one serialization point
// shared by request handlers and background ingestion.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"soilwatch/internal/types"
)

// schema is the observation table. Dates are ISO-8601 text so BETWEEN
// comparisons are chronological; the composite primary key gives
// INSERT OR REPLACE its last-write-wins upsert semantics.
const schema = `
CREATE TABLE IF NOT EXISTS soil_moisture (
	date     TEXT NOT NULL,
	lat      REAL NOT NULL,
	lon      REAL NOT NULL,
	moisture REAL NOT NULL,
	PRIMARY KEY (date, lat, lon)
)`

// Gateway owns the single SQLite connection. All access is serialized behind
// mu: a query never observes a half-applied ingestion batch, and concurrent
// upserts apply one after the other. A failed operation rolls back its own
// transaction and leaves the connection usable.
type Gateway struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// observation table exists.
func Open(path string) (*Gateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("opening database", err)
	}

	// One connection total. The driver would otherwise grow a pool, and the
	// gateway's locking discipline assumes exactly one.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageErr("creating soil_moisture table", err)
	}

	return &Gateway{db: db}, nil
}

// Close releases the database connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.db.Close()
}

// Upsert writes the batch in one transaction: every record is inserted or
// replaced by its (date, lat, lon) identity key, and the transaction commits
// only if every insert succeeds. On any failure the whole batch rolls back —
// no partial batch is ever visible to a reader.
func (g *Gateway) Upsert(ctx context.Context, records []types.SoilMoistureRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning upsert transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO soil_moisture (date, lat, lon, moisture)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return storageErr("preparing upsert statement", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Date.String(), rec.Lat, rec.Lon, rec.Moisture); err != nil {
			tx.Rollback()
			return storageErr(fmt.Sprintf("upserting record %s (%g, %g)", rec.Date, rec.Lat, rec.Lon), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing upsert transaction", err)
	}
	return nil
}

// Query returns every stored record matching the filter: exact coordinate
// equality and a closed [StartDate, EndDate] range. Rows come back in storage
// order; callers must not assume any ordering. An empty range (start after
// end) yields an empty result, not an error.
func (g *Gateway) Query(ctx context.Context, q types.MoistureQuery) ([]types.SoilMoistureRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, err := g.db.QueryContext(ctx, `
		SELECT date, lat, lon, moisture
		FROM soil_moisture
		WHERE lat = ? AND lon = ? AND date BETWEEN ? AND ?`,
		q.Lat, q.Lon, q.StartDate.String(), q.EndDate.String())
	if err != nil {
		return nil, storageErr("querying soil_moisture", err)
	}
	defer rows.Close()

	records := []types.SoilMoistureRecord{}
	for rows.Next() {
		var (
			rec     types.SoilMoistureRecord
			dateStr string
		)
		if err := rows.Scan(&dateStr, &rec.Lat, &rec.Lon, &rec.Moisture); err != nil {
			return nil, storageErr("scanning soil_moisture row", err)
		}
		rec.Date, err = types.ParseDate(dateStr)
		if err != nil {
			return nil, storageErr("decoding stored date", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating soil_moisture rows", err)
	}

	return records, nil
}

// Count returns the total number of stored observations.
func (g *Gateway) Count(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var n int
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM soil_moisture`).Scan(&n); err != nil {
		return 0, storageErr("counting soil_moisture rows", err)
	}
	return n, nil
}

// Ping verifies the connection for health checks.
func (g *Gateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.db.PingContext(ctx); err != nil {
		return storageErr("pinging database", err)
	}
	return nil
}

// storageErr wraps a storage-engine failure. The message stays internal; the
// HTTP layer maps ErrCodeInternalDB to a generic 500 without leaking engine
// detail to callers.
func storageErr(message string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeInternalDB, message, err)
}
