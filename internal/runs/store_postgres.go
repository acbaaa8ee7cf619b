package runs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initRunSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initRunSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_description TEXT NOT NULL,
			status TEXT NOT NULL,
			agent_chain TEXT NOT NULL DEFAULT '',
			final_output TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			total_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS run_payments (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			simulated BOOLEAN NOT NULL DEFAULT TRUE,
			at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_payments_run ON run_payments (run_id, at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init run schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (
			id, task_description, status, agent_chain, final_output, error, total_paid,
			created_at, updated_at, started_at, ended_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
		)
		ON CONFLICT (id) DO UPDATE SET
			task_description=EXCLUDED.task_description,
			status=EXCLUDED.status,
			agent_chain=EXCLUDED.agent_chain,
			final_output=EXCLUDED.final_output,
			error=EXCLUDED.error,
			total_paid=EXCLUDED.total_paid,
			created_at=EXCLUDED.created_at,
			updated_at=EXCLUDED.updated_at,
			started_at=EXCLUDED.started_at,
			ended_at=EXCLUDED.ended_at`,
		run.ID,
		run.TaskDescription,
		string(run.Status),
		strings.Join(run.AgentChain, ","),
		run.FinalOutput,
		run.Error,
		run.TotalPaid,
		run.CreatedAt,
		run.UpdatedAt,
		run.StartedAt,
		run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM run_payments WHERE run_id=$1`, run.ID); err != nil {
		return fmt.Errorf("delete prior payments: %w", err)
	}

	for _, p := range run.Payments {
		_, err := tx.Exec(ctx,
			`INSERT INTO run_payments (run_id, from_agent, to_agent, amount, tx_hash, simulated, at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			run.ID,
			p.From,
			p.To,
			p.Amount,
			p.TxHash,
			p.Simulated,
			p.At,
		)
		if err != nil {
			return fmt.Errorf("insert run payment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_description, status, agent_chain, final_output, error, total_paid,
		        created_at, updated_at, started_at, ended_at
		   FROM runs WHERE id=$1`,
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Run{}, ErrStoreNotFound
		}
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Payments, err = s.loadPayments(ctx, run.ID)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_description, status, agent_chain, final_output, error, total_paid,
		        created_at, updated_at, started_at, ended_at
		   FROM runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		payments, err := s.loadPayments(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Payments = payments
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) loadPayments(ctx context.Context, runID string) ([]Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT from_agent, to_agent, amount, tx_hash, simulated, at
		   FROM run_payments WHERE run_id=$1 ORDER BY at ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run payments: %w", err)
	}
	defer rows.Close()

	payments := make([]Payment, 0, 4)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.From, &p.To, &p.Amount, &p.TxHash, &p.Simulated, &p.At); err != nil {
			return nil, fmt.Errorf("scan run payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run payments: %w", err)
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return payments, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		status    string
		chain     string
		startedAt *time.Time
		endedAt   *time.Time
	)
	if err := row.Scan(
		&run.ID,
		&run.TaskDescription,
		&status,
		&chain,
		&run.FinalOutput,
		&run.Error,
		&run.TotalPaid,
		&run.CreatedAt,
		&run.UpdatedAt,
		&startedAt,
		&endedAt,
	); err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)
	if chain != "" {
		run.AgentChain = strings.Split(chain, ",")
	}
	run.StartedAt = startedAt
	run.EndedAt = endedAt
	return run, nil
}
