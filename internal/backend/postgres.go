package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/tidwall/gjson"

	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

// Postgres invokes stored procedures over a pooled sqlx connection.
type Postgres struct {
	db      *sqlx.DB
	logger  *logging.Logger
	timeout time.Duration
}

// NewPostgres connects to the backing store. Timeout bounds each dispatch
// (default 30s).
func NewPostgres(databaseURL string, timeout time.Duration, logger *logging.Logger) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect backend store: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Postgres{db: db, logger: logger, timeout: timeout}, nil
}

// NewPostgresFromDB wraps an existing connection, for tests.
func NewPostgresFromDB(db *sqlx.DB, timeout time.Duration, logger *logging.Logger) *Postgres {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Postgres{db: db, logger: logger, timeout: timeout}
}

// Invoke calls `SELECT <proc>($1::jsonb)` and returns the procedure's jsonb
// result. A result carrying {"success": false} is surfaced as a backend
// Error with the procedure's own message.
func (p *Postgres) Invoke(ctx context.Context, proc Procedure, payload json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var result []byte
	query := fmt.Sprintf("SELECT %s($1::jsonb)", proc)
	if err := p.db.QueryRowxContext(opCtx, query, []byte(payload)).Scan(&result); err != nil {
		metrics.RecordBackendDispatch(string(proc), "error", time.Since(start))
		if p.logger != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("procedure", string(proc)).Error("backend dispatch failed")
		}
		return nil, fmt.Errorf("invoke %s: %w", proc, err)
	}

	parsed := gjson.ParseBytes(result)
	if success := parsed.Get("success"); success.Exists() && !success.Bool() {
		message := parsed.Get("error").String()
		if message == "" {
			message = "backend rejected request"
		}
		metrics.RecordBackendDispatch(string(proc), "rejected", time.Since(start))
		return nil, &Error{Message: message}
	}

	metrics.RecordBackendDispatch(string(proc), "ok", time.Since(start))
	return json.RawMessage(result), nil
}

// Ping verifies the backing store connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
