package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kharomchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One connection: the app is the only writer, and :memory: databases are per connection.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set sqlite WAL mode: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres", "pgx":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the key-value table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS kv_records (
				record_key TEXT PRIMARY KEY,
				record_value TEXT NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS kv_records (
				record_key VARCHAR(255) NOT NULL,
				record_value LONGTEXT NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (record_key)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres", "pgx":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS kv_records (
				record_key TEXT PRIMARY KEY,
				record_value TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// SQLStore is a KeyValue over the kv_records table.
type SQLStore struct {
	db        *sql.DB
	getSQL    string
	upsertSQL string
	deleteSQL string
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db}
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		s.getSQL = `SELECT record_value FROM kv_records WHERE record_key = ?`
		s.upsertSQL = `INSERT INTO kv_records (record_key, record_value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(record_key) DO UPDATE SET record_value = excluded.record_value, updated_at = excluded.updated_at`
		s.deleteSQL = `DELETE FROM kv_records WHERE record_key = ?`
	case "mysql":
		s.getSQL = `SELECT record_value FROM kv_records WHERE record_key = ?`
		s.upsertSQL = `INSERT INTO kv_records (record_key, record_value, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE record_value = VALUES(record_value), updated_at = VALUES(updated_at)`
		s.deleteSQL = `DELETE FROM kv_records WHERE record_key = ?`
	case "postgres", "pgx":
		s.getSQL = `SELECT record_value FROM kv_records WHERE record_key = $1`
		s.upsertSQL = `INSERT INTO kv_records (record_key, record_value, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (record_key) DO UPDATE SET record_value = EXCLUDED.record_value, updated_at = EXCLUDED.updated_at`
		s.deleteSQL = `DELETE FROM kv_records WHERE record_key = $1`
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.getSQL, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get record %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.upsertSQL, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set record %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteSQL, key); err != nil {
		return fmt.Errorf("remove record %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
