package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// opTimeout ограничивает один запрос репозитория.
const opTimeout = 5 * time.Second

// SQLSTATE, которые репозитории переводят в доменные ошибки.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

type poolSettings struct {
	maxConns        int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
	pingTimeout     time.Duration
}

// Option настраивает пул подключений.
type Option func(*poolSettings)

// WithMaxConns ограничивает число открытых (и простаивающих) подключений.
func WithMaxConns(n int) Option {
	return func(s *poolSettings) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithConnMaxLifetime задаёт время жизни подключения в пуле.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(s *poolSettings) {
		if d > 0 {
			s.connMaxLifetime = d
		}
	}
}

// WithPingTimeout ограничивает проверку доступности базы.
func WithPingTimeout(d time.Duration) Option {
	return func(s *poolSettings) {
		if d > 0 {
			s.pingTimeout = d
		}
	}
}

// Store — пул подключений к PostgreSQL через драйвер pgx.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// Open создаёт пул и сразу проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	settings := poolSettings{
		maxConns:        25,
		connMaxLifetime: 30 * time.Minute,
		connMaxIdleTime: 5 * time.Minute,
		pingTimeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(&settings)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(settings.maxConns)
	db.SetMaxIdleConns(settings.maxConns)
	db.SetConnMaxLifetime(settings.connMaxLifetime)
	db.SetConnMaxIdleTime(settings.connMaxIdleTime)

	store := &Store{db: db, pingTimeout: settings.pingTimeout}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB отдаёт пул репозиториям и мигратору.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется при старте и в /readyz.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close безопасно вызывать на nil.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// queryer — общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn привязывает репозиторий либо к пулу, либо к транзакции unit of work.
type conn struct {
	db *sql.DB
	tx *sql.Tx
}

func (c conn) q() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// inTx переиспользует транзакцию unit of work; вне её открывает свою.
func (c conn) inTx(ctx context.Context, fn func(q queryer) error) error {
	if c.tx != nil {
		return fn(c.tx)
	}
	return runTx(ctx, c.db, func(tx *sql.Tx) error { return fn(tx) })
}

// runTx коммитит при nil от fn и откатывает при ошибке или панике.
func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return sqlState(err) == sqlStateForeignKeyViolation
}
