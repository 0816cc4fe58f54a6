// Package sqldb основное (авторитетное) реляционное хранилище: политики, предложения,
// веса и статистика обучения. Прод работает на PostgreSQL (pgx), локально и в тестах - SQLite.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite"
)

// Options параметры подключения
// defaultWindowDays окно статистики, если WindowDays не задан
const defaultWindowDays = 30

type Options struct {
	Driver   Dialect
	URL      string
	MaxConns int
	// WindowDays окно, которое получает новая строка policy_stats до первого пересчета
	WindowDays int
}

type DB struct {
	db         *sql.DB
	dialect    Dialect
	windowDays int
}

// Open открывает пул соединений. Для SQLite включаются WAL, busy_timeout и внешние ключи.
func Open(opts Options) (*DB, error) {
	if opts.URL == "" {
		return nil, errors.New("sqldb: database url is required")
	}

	dsn := opts.URL
	switch opts.Driver {
	case Postgres:
	case SQLite:
		if !strings.Contains(dsn, "_time_format") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_time_format=sqlite"
		}
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", opts.Driver)
	}

	db, err := sql.Open(string(opts.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open: %w", err)
	}

	if opts.Driver == SQLite {
		// Одна запись за раз: SQLite сериализует писателей, а длинные транзакции
		// на нескольких соединениях ловят SQLITE_BUSY
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("sqldb: %s: %w", pragma, err)
			}
		}
	} else {
		maxConns := opts.MaxConns
		if maxConns <= 0 {
			maxConns = 25
		}
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	windowDays := opts.WindowDays
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	return &DB{db: db, dialect: opts.Driver, windowDays: windowDays}, nil
}

// Ping проверяет доступность базы при старте
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Migrate создает схему, если ее еще нет
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema(d.dialect) {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqldb: migrate statement %d: %w", i, err)
		}
	}
	return nil
}

// rebind переводит плейсхолдеры '?' в '$N' для Postgres
func (d *DB) rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// inTx выполняет fn в транзакции. Внутри fn все запросы идут только через tx.
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: commit: %w", err)
	}
	return nil
}

// isUniqueViolation нарушение уникального индекса в обоих диалектах
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
