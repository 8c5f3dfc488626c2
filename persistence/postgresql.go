// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver, pure Go

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
)

// Dialect selects the SQL flavour of an SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore is the database/sql implementation of Database. Queries are
// written with ? placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
}

// NewPostgreSQL connects to PostgreSQL and creates the tables.
func NewPostgreSQL(host string, port int, user, password, dbname string) (*SQLStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewSQLStore(ctx, db, DialectPostgres)
}

// NewSQLite opens (or creates) an SQLite database at path. ":memory:" gives a
// private in-memory database.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers, and :memory: databases are
	// per connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return NewSQLStore(ctx, db, DialectSQLite)
}

// NewSQLStore wraps an open database and creates the tables.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, timeout: 5 * time.Second}
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initTables creates the event log and snapshot tables.
func (s *SQLStore) initTables(ctx context.Context) error {
	dataType, tsType := "TEXT", "TIMESTAMP"
	if s.dialect == DialectPostgres {
		dataType, tsType = "JSONB", "TIMESTAMPTZ"
	}
	stmts := []string{
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS game_events (
            game_id VARCHAR(64) NOT NULL,
            seq BIGINT NOT NULL,
            event_id VARCHAR(64) NOT NULL UNIQUE,
            event_type VARCHAR(64) NOT NULL,
            occurred_at %s NOT NULL,
            data %s NOT NULL,
            PRIMARY KEY (game_id, seq)
        )`, tsType, dataType),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS game_snapshots (
            game_id VARCHAR(64) PRIMARY KEY,
            room_code VARCHAR(16) NOT NULL,
            status VARCHAR(32) NOT NULL,
            version BIGINT NOT NULL,
            data %s NOT NULL,
            updated_at %s NOT NULL
        )`, dataType, tsType),
		`CREATE INDEX IF NOT EXISTS idx_game_snapshots_room_code ON game_snapshots(room_code)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("init tables", err)
		}
	}
	return nil
}

// q rebinds ? placeholders to $n for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// SaveEvent appends one event.
func (s *SQLStore) SaveEvent(ctx context.Context, evt events.Event) error {
	return s.SaveEvents(ctx, []events.Event{evt})
}

// SaveEvents appends evts in one transaction.
func (s *SQLStore) SaveEvents(ctx context.Context, evts []events.Event) error {
	records := make([]events.Record, 0, len(evts))
	for _, evt := range evts {
		rec, err := events.ToRecord(evt)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("save events", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		var existingGame string
		var existing []byte
		err := tx.QueryRowContext(ctx, s.q(`SELECT game_id, data FROM game_events WHERE event_id = ?`), rec.EventID).
			Scan(&existingGame, &existing)
		switch {
		case err == nil:
			if existingGame != rec.GameID || !sameDocument(existing, rec.Data) {
				return events.ErrImmutableEvent
			}
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return wrap("save events", err)
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(seq), 0) FROM game_events WHERE game_id = ?`), rec.GameID).
			Scan(&seq); err != nil {
			return wrap("save events", err)
		}
		query := `
        INSERT INTO game_events (game_id, seq, event_id, event_type, occurred_at, data)
        VALUES (?, ?, ?, ?, ?, ?)
    `
		if _, err := tx.ExecContext(ctx, s.q(query),
			rec.GameID, seq+1, rec.EventID, string(rec.Type), rec.Timestamp, string(rec.Data)); err != nil {
			return wrap("save events", err)
		}
	}
	return wrap("save events", tx.Commit())
}

// GetEvents returns a game's full log.
func (s *SQLStore) GetEvents(ctx context.Context, gameID string) ([]events.Event, error) {
	return s.GetEventsSince(ctx, gameID, 0)
}

// GetEventsSince returns the events after the first version.
func (s *SQLStore) GetEventsSince(ctx context.Context, gameID string, version int) ([]events.Event, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT data FROM game_events WHERE game_id = ? AND seq > ? ORDER BY seq`), gameID, version)
	if err != nil {
		return nil, wrap("get events", err)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("get events", err)
		}
		docs = append(docs, data)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get events", err)
	}
	return decodeEvents(gameID, docs)
}

// SaveSnapshot upserts the snapshot unless a newer version is stored.
func (s *SQLStore) SaveSnapshot(ctx context.Context, g *models.Game) error {
	data, err := encodeSnapshot(g)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	query := `
        INSERT INTO game_snapshots (game_id, room_code, status, version, data, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (game_id)
        DO UPDATE SET room_code = excluded.room_code, status = excluded.status,
            version = excluded.version, data = excluded.data, updated_at = excluded.updated_at
        WHERE game_snapshots.version <= excluded.version
    `
	_, err = s.db.ExecContext(ctx, s.q(query),
		g.ID, g.RoomCode, string(g.Status), g.Version, string(data), time.Now().UTC())
	return wrap("save snapshot", err)
}

// GetSnapshot returns the latest snapshot of a game.
func (s *SQLStore) GetSnapshot(ctx context.Context, gameID string) (*models.Game, error) {
	return s.loadSnapshot(ctx, "get snapshot", `SELECT data FROM game_snapshots WHERE game_id = ?`, gameID)
}

// GetByRoomCode returns the most recently saved game with the room code.
func (s *SQLStore) GetByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	return s.loadSnapshot(ctx, "get by room code",
		`SELECT data FROM game_snapshots WHERE room_code = ? ORDER BY updated_at DESC LIMIT 1`, roomCode)
}

func (s *SQLStore) loadSnapshot(ctx context.Context, op, query string, arg any) (*models.Game, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx, s.q(query), arg).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, wrap(op, err)
	}
	return decodeSnapshot(data)
}

// DeleteGame removes the log and snapshot in one transaction.
func (s *SQLStore) DeleteGame(ctx context.Context, gameID string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete game", err)
	}
	defer tx.Rollback()

	var affected int64
	for _, query := range []string{
		`DELETE FROM game_events WHERE game_id = ?`,
		`DELETE FROM game_snapshots WHERE game_id = ?`,
	} {
		res, err := tx.ExecContext(ctx, s.q(query), gameID)
		if err != nil {
			return wrap("delete game", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrap("delete game", err)
		}
		affected += n
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return wrap("delete game", tx.Commit())
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
