package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/profit"
)

// ResearchRepository persists runs and profit calculations together with
// their outbox events, so an event is only relayed for committed data.
type ResearchRepository struct {
	db     Querier
	outbox *OutboxRepository
}

func NewResearchRepository(db Querier) *ResearchRepository {
	return &ResearchRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
	}
}

const insertRunSQL = `
	INSERT INTO research_runs (
		id, site, url, status, pages, stop_reason,
		record_count, error_message, started_at, finished_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		pages = EXCLUDED.pages,
		stop_reason = EXCLUDED.stop_reason,
		record_count = EXCLUDED.record_count,
		error_message = EXCLUDED.error_message,
		finished_at = EXCLUDED.finished_at`

const insertRecordSQL = `
	INSERT INTO research_records (run_id, position, data)
	VALUES ($1, $2, $3)
	ON CONFLICT (run_id, position) DO UPDATE SET data = EXCLUDED.data`

// SaveRun writes the run, its records and the given events in one
// transaction.
func (r *ResearchRepository) SaveRun(ctx context.Context, run *models.Run, events ...*OutboxEvent) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", run.ID, err)
	}

	var errMsg *string
	if run.Error != "" {
		errMsg = &run.Error
	}

	pages := make([]int32, len(run.Pages))
	for i, p := range run.Pages {
		pages[i] = int32(p)
	}

	return InTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertRunSQL,
			id, run.Site, run.URL, string(run.Status), pages, run.StopReason,
			len(run.Records), errMsg, run.StartedAt, run.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for i, rec := range run.Records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal record %d: %w", i, err)
			}
			if _, err := tx.Exec(ctx, insertRecordSQL, id, i, data); err != nil {
				return fmt.Errorf("failed to insert record %d: %w", i, err)
			}
		}

		for _, event := range events {
			if err := r.outbox.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

const insertProfitSQL = `
	INSERT INTO profit_calculations (
		id, sku, category, channel, shipping_cost, total_cost,
		revenue, profit, margin, warnings
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	)`

// SaveProfit records one calculation and returns its ID.
func (r *ResearchRepository) SaveProfit(ctx context.Context, calc *profit.Calculation, events ...*OutboxEvent) (uuid.UUID, error) {
	id := uuid.New()

	warnings, err := json.Marshal(calc.Warnings)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal warnings: %w", err)
	}

	err = InTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertProfitSQL,
			id, calc.SKU, string(calc.Category), calc.Chosen.Channel.Name,
			calc.ShippingCost, calc.TotalCost, calc.Revenue, calc.Profit,
			calc.Margin, warnings,
		)
		if err != nil {
			return fmt.Errorf("failed to insert profit calculation: %w", err)
		}

		for _, event := range events {
			if err := r.outbox.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// GetRunSummary loads a run row without its records.
func (r *ResearchRepository) GetRunSummary(ctx context.Context, runID string) (*models.RunSummary, error) {
	query := `
		SELECT id, site, url, status, pages, stop_reason, record_count,
			COALESCE(error_message, ''), started_at, finished_at
		FROM research_runs
		WHERE id = $1`

	var (
		id     uuid.UUID
		status string
		pages  []int32
		s      models.RunSummary
	)
	err := r.db.QueryRow(ctx, query, runID).Scan(
		&id, &s.Site, &s.URL, &status, &pages, &s.StopReason, &s.RecordCount,
		&s.Error, &s.StartedAt, &s.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	s.ID = id.String()
	s.Status = models.RunStatus(status)
	s.PageCount = len(pages)
	return &s, nil
}
