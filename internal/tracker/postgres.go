package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// PostgresConfig controls the connection pool for the self-hosted tracker.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres implements docket.Tracker against a jobs/case_records schema:
//
//	CREATE TABLE jobs (
//	    id            TEXT PRIMARY KEY,
//	    docket_number TEXT NOT NULL,
//	    defendant     TEXT NOT NULL DEFAULT '',
//	    case_name     TEXT NOT NULL DEFAULT '',
//	    attempt_count INT  NOT NULL DEFAULT 0,
//	    status        TEXT NOT NULL DEFAULT '',
//	    error_text    TEXT NOT NULL DEFAULT '',
//	    artifact_url  TEXT NOT NULL DEFAULT ''
//	);
//	CREATE TABLE case_records (
//	    court, docket_number, defendant, case_name, nature_of_suit,
//	    cause, complaint, date_hit, date_filed TEXT,
//	    UNIQUE (court, docket_number)
//	);
type Postgres struct {
	pool pgxPool
}

// NewPostgres connects a pool using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("tracker postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a tracker from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool pgxPool) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// FetchQueue selects jobs with no artifact, empty or Error status, and
// attempts below the cap.
func (p *Postgres) FetchQueue(ctx context.Context, limit, maxAttempts int) ([]docket.Job, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, docket_number, defendant, case_name, attempt_count, status, error_text, artifact_url
		FROM jobs
		WHERE artifact_url = ''
		  AND status IN ('', 'Error')
		  AND attempt_count < $1
		ORDER BY id
		LIMIT $2`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var jobs []docket.Job
	for rows.Next() {
		var j docket.Job
		var status string
		if err := rows.Scan(&j.ID, &j.DocketNumber, &j.Defendant, &j.CaseName,
			&j.AttemptCount, &status, &j.ErrorText, &j.ArtifactURL); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = docket.JobStatus(status)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return jobs, nil
}

// Patch updates only the fields set on the patch.
func (p *Postgres) Patch(ctx context.Context, jobID string, patch docket.JobPatch) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.AttemptCount != nil {
		add("attempt_count", *patch.AttemptCount)
	}
	if patch.ErrorText != nil {
		add("error_text", *patch.ErrorText)
	}
	if patch.Artifact != nil {
		add("artifact_url", patch.Artifact.URL)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, jobID)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch job %s: no such record", jobID)
	}
	return nil
}

// CreateRecords inserts discovered records, skipping rows that already
// exist for the same court and docket.
func (p *Postgres) CreateRecords(ctx context.Context, records []docket.CaseRecord) (int, error) {
	created := 0
	for _, r := range records {
		tag, err := p.pool.Exec(ctx, `
			INSERT INTO case_records
				(court, docket_number, defendant, case_name, nature_of_suit, cause, complaint, date_hit, date_filed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (court, docket_number) DO NOTHING`,
			r.Court, r.DocketNumber, r.Defendant, r.CaseName, r.NatureOfSuit,
			r.Cause, r.Complaint, r.DateHit, r.DateFiled)
		if err != nil {
			return created, fmt.Errorf("insert case record %s: %w", r.Key(), err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}
