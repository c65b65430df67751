package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
)

const formColumns = `
	id::text,
	sale_id::text,
	professional_id::text,
	phone,
	token,
	status,
	expires_at,
	completed_at,
	created_at`

type AnamneseFormRepo struct {
	pool *pgxpool.Pool
}

func NewAnamneseFormRepo(pool *pgxpool.Pool) *AnamneseFormRepo {
	return &AnamneseFormRepo{pool: pool}
}

// CreatePending inserts a pending form unless the sale already has one,
// in which case the existing pending form is returned with created=false.
func (r *AnamneseFormRepo) CreatePending(ctx context.Context, tx pgx.Tx, form model.AnamneseForm) (model.AnamneseForm, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.AnamneseForm{}, false, err
	}
	if form.ID == "" || form.SaleID == "" || strings.TrimSpace(form.Token) == "" {
		return model.AnamneseForm{}, false, ErrInvalidPayload
	}

	created, err := scanForm(q.QueryRow(ctx, `
INSERT INTO anamnese_forms (
	id,
	sale_id,
	professional_id,
	phone,
	token,
	status,
	expires_at,
	created_at
) VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, 'pending', $6, NOW())
ON CONFLICT (sale_id) WHERE status = 'pending' DO NOTHING
RETURNING`+formColumns,
		form.ID,
		form.SaleID,
		form.ProfessionalID,
		form.Phone,
		form.Token,
		form.ExpiresAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.AnamneseForm{}, false, fmt.Errorf("insert anamnese form: %w", err)
	}

	existing, err := r.FindPendingBySale(ctx, tx, form.SaleID)
	if err != nil {
		return model.AnamneseForm{}, false, err
	}
	return existing, false, nil
}

func (r *AnamneseFormRepo) FindPendingBySale(ctx context.Context, tx pgx.Tx, saleID string) (model.AnamneseForm, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.AnamneseForm{}, err
	}

	form, err := scanForm(q.QueryRow(ctx, `
SELECT`+formColumns+`
FROM anamnese_forms
WHERE sale_id = $1::uuid
  AND status = 'pending'
`, saleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return model.AnamneseForm{}, ErrFormNotFound
		}
		return model.AnamneseForm{}, fmt.Errorf("find pending form by sale: %w", err)
	}
	return form, nil
}

// LockPendingByToken row-locks a consumable form. Unknown, consumed and expired
// tokens all yield ErrFormNotFound.
func (r *AnamneseFormRepo) LockPendingByToken(ctx context.Context, tx pgx.Tx, token string, now time.Time) (model.AnamneseForm, error) {
	if tx == nil {
		return model.AnamneseForm{}, fmt.Errorf("lock form requires a transaction")
	}
	return r.findPendingByToken(ctx, tx, token, now, true)
}

func (r *AnamneseFormRepo) FindPendingByToken(ctx context.Context, token string, now time.Time) (model.AnamneseForm, error) {
	return r.findPendingByToken(ctx, nil, token, now, false)
}

func (r *AnamneseFormRepo) findPendingByToken(ctx context.Context, tx pgx.Tx, token string, now time.Time, forUpdate bool) (model.AnamneseForm, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.AnamneseForm{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return model.AnamneseForm{}, ErrFormNotFound
	}

	query := `
SELECT` + formColumns + `
FROM anamnese_forms
WHERE token = $1
  AND status = 'pending'
  AND (expires_at IS NULL OR expires_at > $2)`
	if forUpdate {
		query += `
FOR UPDATE`
	}

	form, err := scanForm(q.QueryRow(ctx, query, token, now.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AnamneseForm{}, ErrFormNotFound
		}
		return model.AnamneseForm{}, fmt.Errorf("find pending form by token: %w", err)
	}
	return form, nil
}

func (r *AnamneseFormRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, formID string, now time.Time) error {
	q, err := conn(r.pool, tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
UPDATE anamnese_forms
SET status = 'completed', completed_at = $2
WHERE id = $1::uuid
  AND status = 'pending'
`, formID, now.UTC())
	if err != nil {
		return fmt.Errorf("mark form completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFormNotFound
	}
	return nil
}

func (r *AnamneseFormRepo) Expire(ctx context.Context, tx pgx.Tx, formID string) error {
	q, err := conn(r.pool, tx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `
UPDATE anamnese_forms
SET status = 'expired'
WHERE id = $1::uuid
  AND status = 'pending'
`, formID); err != nil {
		return fmt.Errorf("expire form: %w", err)
	}
	return nil
}

// ExpireOverdue flips pending forms past their expiry to expired.
func (r *AnamneseFormRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	if r.pool == nil {
		return 0, errNilPool
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE anamnese_forms
SET status = 'expired'
WHERE status = 'pending'
  AND expires_at IS NOT NULL
  AND expires_at <= $1
`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire overdue forms: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanForm(row pgx.Row) (model.AnamneseForm, error) {
	var (
		form   model.AnamneseForm
		status string
	)
	if err := row.Scan(
		&form.ID,
		&form.SaleID,
		&form.ProfessionalID,
		&form.Phone,
		&form.Token,
		&status,
		&form.ExpiresAt,
		&form.CompletedAt,
		&form.CreatedAt,
	); err != nil {
		return model.AnamneseForm{}, err
	}
	form.Status = enums.FormStatus(status)
	return form, nil
}

type AnamneseResponseRepo struct {
	pool *pgxpool.Pool
}

func NewAnamneseResponseRepo(pool *pgxpool.Pool) *AnamneseResponseRepo {
	return &AnamneseResponseRepo{pool: pool}
}

func (r *AnamneseResponseRepo) Insert(ctx context.Context, tx pgx.Tx, resp model.AnamneseResponse) (model.AnamneseResponse, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.AnamneseResponse{}, err
	}
	if resp.ID == "" || resp.FormID == "" {
		return model.AnamneseResponse{}, ErrInvalidPayload
	}

	err = q.QueryRow(ctx, `
INSERT INTO anamnese_responses (
	id,
	form_id,
	submitted_at,
	name,
	email,
	phone,
	cpf,
	birth_date,
	gender,
	weight_kg,
	height_cm,
	health_conditions,
	injuries,
	medications,
	goal,
	activity_preferences,
	frequency_preference,
	notes,
	photo_keys
) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING submitted_at
`,
		resp.ID,
		resp.FormID,
		resp.SubmittedAt.UTC(),
		resp.Name,
		resp.Email,
		resp.Phone,
		resp.CPF,
		resp.BirthDate,
		resp.Gender,
		resp.WeightKg,
		resp.HeightCm,
		nonNilStrings(resp.HealthConditions),
		resp.Injuries,
		resp.Medications,
		resp.Goal,
		nonNilStrings(resp.ActivityPreferences),
		resp.FrequencyPreference,
		resp.Notes,
		nonNilStrings(resp.PhotoKeys),
	).Scan(&resp.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.AnamneseResponse{}, ErrResponseExists
		}
		return model.AnamneseResponse{}, fmt.Errorf("insert anamnese response: %w", err)
	}

	return resp, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
