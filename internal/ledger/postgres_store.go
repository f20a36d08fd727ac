package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS payment_ledger (
    signature TEXT PRIMARY KEY,
    payer TEXT NOT NULL,
    github_url TEXT NOT NULL,
    job_id TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, signature string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT signature, payer, github_url, job_id, outcome, reason, created_at, updated_at
FROM payment_ledger
WHERE signature = $1
`, signature)

	var rec Record
	var outcome string
	if err := row.Scan(&rec.Signature, &rec.Payer, &rec.GithubURL, &rec.JobID, &outcome, &rec.Reason, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Outcome = Outcome(outcome)
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.Signature == "" {
		return errors.New("record signature is required")
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO payment_ledger (signature, payer, github_url, job_id, outcome, reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (signature) DO UPDATE
SET payer = EXCLUDED.payer,
    github_url = EXCLUDED.github_url,
    job_id = EXCLUDED.job_id,
    outcome = EXCLUDED.outcome,
    reason = EXCLUDED.reason,
    updated_at = EXCLUDED.updated_at
`, record.Signature, record.Payer, record.GithubURL, record.JobID, string(record.Outcome), record.Reason, record.CreatedAt, record.UpdatedAt)
	return err
}
