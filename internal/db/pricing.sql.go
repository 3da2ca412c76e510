package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type UpsertPricingModelParams struct {
	Model       string
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
	Source      string
	UpdatedAt   time.Time
}

func (q *Queries) UpsertPricingModel(ctx context.Context, arg UpsertPricingModelParams) error {
	_, err := q.exec(ctx, `INSERT INTO pricing_models (model, input_per_1k, output_per_1k, source, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (model) DO UPDATE SET
    input_per_1k = excluded.input_per_1k,
    output_per_1k = excluded.output_per_1k,
    source = excluded.source,
    updated_at = excluded.updated_at`,
		arg.Model, q.decimal(arg.InputPer1K), q.decimal(arg.OutputPer1K), arg.Source, q.ts(arg.UpdatedAt),
	)
	return err
}

func (q *Queries) ListPricingModels(ctx context.Context) ([]PricingModel, error) {
	rows, err := q.query(ctx, `SELECT model, input_per_1k, output_per_1k, source, updated_at FROM pricing_models ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PricingModel
	for rows.Next() {
		var i PricingModel
		if err := rows.Scan(&i.Model, &i.InputPer1K, &i.OutputPer1K, &i.Source, scanTime(&i.UpdatedAt)); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *Queries) DeletePricingModelsBySource(ctx context.Context, source string) (int64, error) {
	res, err := q.exec(ctx, `DELETE FROM pricing_models WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
