// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

const (
	defaultTable = "jobs_data"
	// maxVarchar matches the VARCHAR(255) columns of the jobs table.
	maxVarchar = 255
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var jobColumns = []string{
	"id",
	"title",
	"job_url",
	"salary",
	"country",
	"experience",
	"job_status",
	"publish_date",
	"description",
	"badges",
}

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Logger          *zap.Logger
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// JobStore writes job records into Postgres. It satisfies crawler.Store.
type JobStore struct {
	pool   pool
	table  string
	logger *zap.Logger
}

var _ crawler.Store = (*JobStore)(nil)

// NewJobStore creates a Postgres-backed JobStore using the provided config.
// The pool is created lazily by pgx; Ping verifies the server is reachable.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrConnection, err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: postgres ping failed: %w", crawler.ErrConnection, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{pool: p, table: table, logger: logger}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: p, table: table, logger: zap.NewNop()}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateSchema creates the jobs table if it is missing. With reset the
// table is dropped first and all previously stored rows are lost.
func (s *JobStore) CreateSchema(ctx context.Context, reset bool) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job store is not configured")
	}
	if reset {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
			return fmt.Errorf("drop %s: %w", s.table, err)
		}
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	title VARCHAR(255),
	job_url VARCHAR(255) NOT NULL,
	salary VARCHAR(255),
	country VARCHAR(255),
	experience VARCHAR(255),
	job_status VARCHAR(255),
	publish_date VARCHAR(255),
	description TEXT,
	badges TEXT[] NOT NULL DEFAULT '{}'
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Connect begins a transaction that backs one flush.
func (s *JobStore) Connect(ctx context.Context) (crawler.Session, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: job store is not configured", crawler.ErrConnection)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", crawler.ErrConnection, err)
	}
	return &session{tx: tx, table: s.table, logger: s.logger}, nil
}

type session struct {
	tx     pgx.Tx
	table  string
	logger *zap.Logger
	done   bool
}

// StoreBatch copies all records in one COPY and commits.
func (s *session) StoreBatch(ctx context.Context, records []crawler.JobRecord) error {
	if s.done {
		return fmt.Errorf("session already finished")
	}
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record id is required (job_url %q)", r.JobURL)
		}
		if n := utf8.RuneCountInString(r.JobURL); n > maxVarchar {
			return fmt.Errorf("record %s: job_url has %d characters, column holds %d", r.ID, n, maxVarchar)
		}
		values, truncated := row(r)
		if len(truncated) > 0 {
			s.logger.Warn("truncated fields to column width",
				zap.String("job_url", r.JobURL),
				zap.Strings("fields", truncated),
				zap.Int("max", maxVarchar),
			)
		}
		rows = append(rows, values)
	}
	n, err := s.tx.CopyFrom(ctx, pgx.Identifier{s.table}, jobColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", s.table, err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", s.table, n, len(rows))
	}
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.done = true
	return nil
}

// Close rolls back an uncommitted transaction.
func (s *session) Close(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// row maps a record onto jobColumns and names the optional fields it had to
// truncate. job_url is checked by the caller and passed through unchanged.
func row(r crawler.JobRecord) ([]any, []string) {
	badges := r.Badges
	if badges == nil {
		badges = []string{}
	}
	var truncated []string
	bounded := func(field string, v *string) *string {
		if v == nil {
			return nil
		}
		out, cut := truncate(*v)
		if cut {
			truncated = append(truncated, field)
		}
		return &out
	}
	values := []any{
		r.ID,
		bounded("title", r.Title),
		r.JobURL,
		bounded("salary", r.Salary),
		bounded("country", r.Country),
		bounded("experience", r.Experience),
		bounded("job_status", r.JobStatus),
		bounded("publish_date", r.PublishDate),
		r.Description,
		badges,
	}
	return values, truncated
}

func truncate(v string) (string, bool) {
	if utf8.RuneCountInString(v) <= maxVarchar {
		return v, false
	}
	runes := []rune(v)
	return string(runes[:maxVarchar]), true
}
