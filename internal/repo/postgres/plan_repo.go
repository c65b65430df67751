package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachhub/backend/internal/domain/model"
)

type PlanRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *PlanRepo {
	return &PlanRepo{pool: pool}
}

func (r *PlanRepo) GetByID(ctx context.Context, planID string) (model.Plan, error) {
	if r.pool == nil {
		return model.Plan{}, errNilPool
	}
	if strings.TrimSpace(planID) == "" {
		return model.Plan{}, ErrPlanNotFound
	}

	var plan model.Plan
	err := r.pool.QueryRow(ctx, `
SELECT id::text, professional_id::text, name, price_cents, currency, duration_days, active, created_at
FROM plans
WHERE id = $1::uuid
`, planID).Scan(
		&plan.ID,
		&plan.ProfessionalID,
		&plan.Name,
		&plan.PriceCents,
		&plan.Currency,
		&plan.DurationDays,
		&plan.Active,
		&plan.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plan{}, ErrPlanNotFound
		}
		if isInvalidUUID(err) {
			return model.Plan{}, ErrPlanNotFound
		}
		return model.Plan{}, fmt.Errorf("get plan: %w", err)
	}

	return plan, nil
}
