// Package postgres implements store.RecordStore against PostgreSQL via
// pgx/v5's pgxpool, following the connection-pool and thin-CRUD-wrapper
// shape of dittofs's pkg/metadata/store/postgres.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver, required by golang-migrate

	"github.com/gcp-broker/tokenbroker/internal/broker/store"
	"github.com/gcp-broker/tokenbroker/internal/broker/store/postgres/migrations"
)

// Config configures the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 30 * time.Minute
	}
	return c
}

// Store is a store.RecordStore backed by a PostgreSQL table:
//
//	CREATE TABLE broker_records (
//		kind TEXT NOT NULL,
//		id   TEXT NOT NULL,
//		fields JSONB NOT NULL,
//		PRIMARY KEY (kind, id)
//	);
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL per cfg and verifies the connection with a
// ping, mirroring createConnectionPool's fail-fast behaviour.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate applies the embedded schema via golang-migrate, following
// dittofs's runMigrations: open a database/sql connection over the same
// DSN (golang-migrate requires database/sql, not pgxpool), build an iofs
// source from the embedded migrations, and run Up. ErrNoChange is not an
// error — it means the schema is already current.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres store: opening migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres store: pinging migration connection: %w", err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{
		MigrationsTable: "broker_schema_migrations",
		DatabaseName:    "broker",
	})
	if err != nil {
		return fmt.Errorf("postgres store: creating migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("postgres store: creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres store: creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres store: applying migrations: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, kind store.Kind, id string, fields store.Fields) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres store: marshal %s/%s: %w", kind, id, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO broker_records (kind, id, fields) VALUES ($1, $2, $3)
		ON CONFLICT (kind, id) DO UPDATE SET fields = EXCLUDED.fields
	`, string(kind), id, data)
	if err != nil {
		return fmt.Errorf("postgres store: save %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, kind store.Kind, id string) (store.Fields, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM broker_records WHERE kind = $1 AND id = $2`,
		string(kind), id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s/%s: %w", kind, id, err)
	}

	var fields store.Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal %s/%s: %w", kind, id, err)
	}
	return fields, nil
}

func (s *Store) Delete(ctx context.Context, kind store.Kind, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM broker_records WHERE kind = $1 AND id = $2`,
		string(kind), id,
	)
	if err != nil {
		return fmt.Errorf("postgres store: delete %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Healthcheck pings the pool, mirroring dittofs's PostgresMetadataStore.Healthcheck.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: healthcheck: %w", err)
	}
	return nil
}

var _ store.RecordStore = (*Store)(nil)
