package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Marshal-AM/fireglobe/internal/model"
)

const runColumns = `run_id, user_id, kg_hash, metrics_hash, fgc_reward_tx, created_at`

func scanRun(row pgx.Row) (model.TestRun, error) {
	var r model.TestRun
	err := row.Scan(&r.RunID, &r.UserID, &r.KGHash, &r.MetricsHash, &r.FGCRewardTx, &r.CreatedAt)
	return r, err
}

// CreateTestRun inserts a run for userID and returns it with its generated id.
func (db *DB) CreateTestRun(ctx context.Context, userID, kgHash, metricsHash string) (model.TestRun, error) {
	var run model.TestRun
	runID := uuid.New()
	err := WithRetry(ctx, insertRetry, func() error {
		var err error
		run, err = scanRun(db.pool.QueryRow(ctx,
			`INSERT INTO test_runs (run_id, user_id, kg_hash, metrics_hash)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+runColumns,
			runID, userID, kgHash, metricsHash,
		))
		return err
	})
	if err != nil {
		return model.TestRun{}, fmt.Errorf("storage: create test run: %w", err)
	}
	return run, nil
}

// GetTestRun returns a run by id, or ErrNotFound.
func (db *DB) GetTestRun(ctx context.Context, runID uuid.UUID) (model.TestRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM test_runs WHERE run_id = $1`, runID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TestRun{}, ErrNotFound
		}
		return model.TestRun{}, fmt.Errorf("storage: get test run: %w", err)
	}
	return run, nil
}

// ListTestRunsByUser returns the user's runs, newest first.
func (db *DB) ListTestRunsByUser(ctx context.Context, userID string) ([]model.TestRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM test_runs WHERE user_id = $1 ORDER BY created_at DESC, run_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list test runs: %w", err)
	}
	defer rows.Close()

	runs := []model.TestRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan test run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list test runs: %w", err)
	}
	return runs, nil
}

// AttachRewardTx records the FGC reward transaction on a run. Ownership is
// checked by the caller. Returns ErrNotFound when the run does not exist and
// ErrConflict when a reward is already attached.
func (db *DB) AttachRewardTx(ctx context.Context, runID uuid.UUID, txHash string) (model.TestRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`UPDATE test_runs SET fgc_reward_tx = $2
		 WHERE run_id = $1 AND fgc_reward_tx IS NULL
		 RETURNING `+runColumns,
		runID, txHash,
	))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.TestRun{}, fmt.Errorf("storage: attach reward: %w", err)
	}
	if _, err := db.GetTestRun(ctx, runID); err != nil {
		return model.TestRun{}, err
	}
	return model.TestRun{}, ErrConflict
}
