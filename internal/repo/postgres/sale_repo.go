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

const saleColumns = `
	id::text,
	professional_id::text,
	plan_id::text,
	customer_name,
	customer_email,
	customer_phone,
	amount_cents,
	currency,
	metadata,
	status,
	provider_session_id,
	provider_payment_id,
	student_id::text,
	created_at,
	updated_at`

type SaleRepo struct {
	pool *pgxpool.Pool
}

func NewSaleRepo(pool *pgxpool.Pool) *SaleRepo {
	return &SaleRepo{pool: pool}
}

func (r *SaleRepo) CreatePending(ctx context.Context, sale model.Sale) (model.Sale, error) {
	if r.pool == nil {
		return model.Sale{}, errNilPool
	}
	if sale.ID == "" || sale.ProfessionalID == "" || sale.AmountCents <= 0 {
		return model.Sale{}, ErrInvalidPayload
	}

	metadata, err := marshalPayload(sale.Metadata)
	if err != nil {
		return model.Sale{}, err
	}

	created, err := scanSale(r.pool.QueryRow(ctx, `
INSERT INTO sales (
	id,
	professional_id,
	plan_id,
	customer_name,
	customer_email,
	customer_phone,
	amount_cents,
	currency,
	metadata,
	status,
	created_at,
	updated_at
) VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9::jsonb, 'pending', NOW(), NOW())
RETURNING`+saleColumns,
		sale.ID,
		sale.ProfessionalID,
		sale.PlanID,
		sale.CustomerName,
		sale.CustomerEmail,
		sale.CustomerPhone,
		sale.AmountCents,
		strings.ToUpper(sale.Currency),
		metadata,
	))
	if err != nil {
		return model.Sale{}, fmt.Errorf("insert pending sale: %w", err)
	}

	return created, nil
}

func (r *SaleRepo) Get(ctx context.Context, tx pgx.Tx, saleID string) (model.Sale, error) {
	return r.get(ctx, tx, saleID, false)
}

// GetForUpdate row-locks the sale until tx ends.
func (r *SaleRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, saleID string) (model.Sale, error) {
	if tx == nil {
		return model.Sale{}, fmt.Errorf("lock sale requires a transaction")
	}
	return r.get(ctx, tx, saleID, true)
}

func (r *SaleRepo) get(ctx context.Context, tx pgx.Tx, saleID string, forUpdate bool) (model.Sale, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Sale{}, err
	}

	query := `SELECT` + saleColumns + ` FROM sales WHERE id = $1::uuid`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	sale, err := scanSale(q.QueryRow(ctx, query, saleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return model.Sale{}, ErrSaleNotFound
		}
		return model.Sale{}, fmt.Errorf("get sale: %w", err)
	}
	return sale, nil
}

func (r *SaleRepo) AttachSession(ctx context.Context, saleID, sessionID string) error {
	if r.pool == nil {
		return errNilPool
	}
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidPayload
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE sales
SET provider_session_id = $2, updated_at = NOW()
WHERE id = $1::uuid
`, saleID, sessionID)
	if err != nil {
		return fmt.Errorf("attach provider session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

// Transition moves the sale to status `to` when its current status allows it.
// A disallowed move leaves the row untouched and returns the current sale with changed=false.
func (r *SaleRepo) Transition(ctx context.Context, tx pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Sale{}, false, err
	}
	if !to.Valid() {
		return model.Sale{}, false, ErrInvalidPayload
	}

	metadata, err := marshalPayload(update.Metadata)
	if err != nil {
		return model.Sale{}, false, err
	}

	from := enums.AllowedFrom(to)
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	updated, err := scanSale(q.QueryRow(ctx, `
UPDATE sales
SET
	status = $2,
	provider_session_id = COALESCE(NULLIF($3, ''), provider_session_id),
	provider_payment_id = COALESCE(NULLIF($4, ''), provider_payment_id),
	student_id = COALESCE(NULLIF($5, '')::uuid, student_id),
	metadata = metadata || $6::jsonb,
	updated_at = NOW()
WHERE id = $1::uuid
  AND status = ANY($7::text[])
RETURNING`+saleColumns,
		saleID,
		string(to),
		update.ProviderSessionID,
		update.ProviderPaymentID,
		update.StudentID,
		metadata,
		allowed,
	))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isInvalidUUID(err) {
			return model.Sale{}, false, ErrSaleNotFound
		}
		return model.Sale{}, false, fmt.Errorf("transition sale to %s: %w", to, err)
	}

	current, err := r.get(ctx, tx, saleID, false)
	if err != nil {
		return model.Sale{}, false, err
	}
	return current, false, nil
}

// MergeMetadata merges metadata into the sale without touching its status.
func (r *SaleRepo) MergeMetadata(ctx context.Context, tx pgx.Tx, saleID string, metadata map[string]any) (model.Sale, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Sale{}, err
	}

	payload, err := marshalPayload(metadata)
	if err != nil {
		return model.Sale{}, err
	}

	updated, err := scanSale(q.QueryRow(ctx, `
UPDATE sales
SET metadata = metadata || $2::jsonb, updated_at = NOW()
WHERE id = $1::uuid
RETURNING`+saleColumns,
		saleID,
		payload,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return model.Sale{}, ErrSaleNotFound
		}
		return model.Sale{}, fmt.Errorf("merge sale metadata: %w", err)
	}
	return updated, nil
}

func (r *SaleRepo) ListByProfessional(ctx context.Context, professionalID string, status enums.SaleStatus, limit int) ([]model.Sale, error) {
	if r.pool == nil {
		return nil, errNilPool
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+saleColumns+`
FROM sales
WHERE professional_id = $1::uuid
  AND ($2 = '' OR status = $2)
ORDER BY created_at DESC
LIMIT $3
`, professionalID, string(status), limit)
	if err != nil {
		if isInvalidUUID(err) {
			return []model.Sale{}, nil
		}
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return collectSales(rows)
}

// ListStale returns sales sitting in status since before cutoff, oldest first.
func (r *SaleRepo) ListStale(ctx context.Context, status enums.SaleStatus, cutoff time.Time, limit int) ([]model.Sale, error) {
	if r.pool == nil {
		return nil, errNilPool
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+saleColumns+`
FROM sales
WHERE status = $1
  AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3
`, string(status), cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale sales: %w", err)
	}
	return collectSales(rows)
}

func collectSales(rows pgx.Rows) ([]model.Sale, error) {
	defer rows.Close()

	items := make([]model.Sale, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		items = append(items, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return items, nil
}

func scanSale(row pgx.Row) (model.Sale, error) {
	var (
		sale        model.Sale
		rawMetadata []byte
		status      string
	)
	if err := row.Scan(
		&sale.ID,
		&sale.ProfessionalID,
		&sale.PlanID,
		&sale.CustomerName,
		&sale.CustomerEmail,
		&sale.CustomerPhone,
		&sale.AmountCents,
		&sale.Currency,
		&rawMetadata,
		&status,
		&sale.ProviderSessionID,
		&sale.ProviderPaymentID,
		&sale.StudentID,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	); err != nil {
		return model.Sale{}, err
	}
	sale.Metadata = decodePayload(rawMetadata)
	sale.Status = enums.SaleStatus(status)
	return sale, nil
}
