package persist

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PgStore is the Postgres-backed Store, grounded on Whale's
// internal/persist/db.go connection-pool setup.
type PgStore struct {
	pool *pgxpool.Pool
}

// OpenPgStore connects to dsn, verifies the connection, and applies
// any pending migrations.
func OpenPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PgStore{pool: pool}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("persist: set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("persist: run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PgStore) Close() { s.pool.Close() }

func (s *PgStore) LoadGlobal(ctx context.Context, playerID int, onDone OnDone) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM player_global WHERE player_id = $1`, playerID,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		err = nil
	}
	onDone(data, err)
}

func (s *PgStore) SaveGlobal(ctx context.Context, playerID int, data []byte, onDone OnDone) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO player_global (player_id, data) VALUES ($1, $2)
		 ON CONFLICT (player_id) DO UPDATE SET data = EXCLUDED.data`,
		playerID, data,
	)
	if onDone != nil {
		onDone(nil, err)
	}
}

func (s *PgStore) LoadArena(ctx context.Context, playerID int, arenaBase string, onDone OnDone) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM player_arena WHERE player_id = $1 AND arena_base = $2`,
		playerID, arenaBase,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		err = nil
	}
	onDone(data, err)
}

func (s *PgStore) SaveArena(ctx context.Context, playerID int, arenaBase string, data []byte, onDone OnDone) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO player_arena (player_id, arena_base, data) VALUES ($1, $2, $3)
		 ON CONFLICT (player_id, arena_base) DO UPDATE SET data = EXCLUDED.data`,
		playerID, arenaBase, data,
	)
	if onDone != nil {
		onDone(nil, err)
	}
}
