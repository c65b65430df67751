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

const paymentColumns = `
	id::text,
	professional_id::text,
	sale_id::text,
	student_id::text,
	amount_cents,
	currency,
	status,
	method,
	provider_payment_id,
	description,
	due_at,
	paid_at,
	created_at`

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// InsertPaid stores a paid payment keyed by provider_payment_id.
// A redelivered provider payment returns the existing row with created=false.
func (r *PaymentRepo) InsertPaid(ctx context.Context, tx pgx.Tx, payment model.Payment) (model.Payment, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Payment{}, false, err
	}
	if payment.ID == "" || payment.SaleID == "" || strings.TrimSpace(payment.ProviderPaymentID) == "" {
		return model.Payment{}, false, ErrInvalidPayload
	}

	inserted, err := scanPayment(q.QueryRow(ctx, `
INSERT INTO payments (
	id,
	professional_id,
	sale_id,
	student_id,
	amount_cents,
	currency,
	status,
	method,
	provider_payment_id,
	description,
	due_at,
	paid_at,
	created_at
) VALUES ($1::uuid, $2::uuid, $3::uuid, $4::uuid, $5, $6, 'paid', $7, $8, $9, $10, $11, NOW())
ON CONFLICT (provider_payment_id) DO NOTHING
RETURNING`+paymentColumns,
		payment.ID,
		payment.ProfessionalID,
		payment.SaleID,
		payment.StudentID,
		payment.AmountCents,
		strings.ToUpper(payment.Currency),
		payment.Method,
		payment.ProviderPaymentID,
		payment.Description,
		payment.DueAt.UTC(),
		payment.PaidAt,
	))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Payment{}, false, fmt.Errorf("insert payment: %w", err)
	}

	existing, err := r.FindByProviderID(ctx, tx, payment.ProviderPaymentID)
	if err != nil {
		return model.Payment{}, false, err
	}
	return existing, false, nil
}

func (r *PaymentRepo) FindByProviderID(ctx context.Context, tx pgx.Tx, providerPaymentID string) (model.Payment, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Payment{}, err
	}

	payment, err := scanPayment(q.QueryRow(ctx, `
SELECT`+paymentColumns+`
FROM payments
WHERE provider_payment_id = $1
`, strings.TrimSpace(providerPaymentID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, ErrPaymentNotFound
		}
		return model.Payment{}, fmt.Errorf("find payment by provider id: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, providerPaymentID string) (model.Payment, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Payment{}, false, err
	}

	updated, err := scanPayment(q.QueryRow(ctx, `
UPDATE payments
SET status = 'refunded'
WHERE provider_payment_id = $1
  AND status <> 'refunded'
RETURNING`+paymentColumns, strings.TrimSpace(providerPaymentID)))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Payment{}, false, fmt.Errorf("mark payment refunded: %w", err)
	}

	existing, err := r.FindByProviderID(ctx, tx, providerPaymentID)
	if err != nil {
		return model.Payment{}, false, err
	}
	return existing, false, nil
}

func (r *PaymentRepo) ListBySale(ctx context.Context, saleID string) ([]model.Payment, error) {
	if r.pool == nil {
		return nil, errNilPool
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+paymentColumns+`
FROM payments
WHERE sale_id = $1::uuid
ORDER BY created_at ASC
`, saleID)
	if err != nil {
		if isInvalidUUID(err) {
			return []model.Payment{}, nil
		}
		return nil, fmt.Errorf("list payments by sale: %w", err)
	}
	defer rows.Close()

	items := make([]model.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		items = append(items, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return items, nil
}

func scanPayment(row pgx.Row) (model.Payment, error) {
	var (
		payment model.Payment
		status  string
		paidAt  *time.Time
	)
	if err := row.Scan(
		&payment.ID,
		&payment.ProfessionalID,
		&payment.SaleID,
		&payment.StudentID,
		&payment.AmountCents,
		&payment.Currency,
		&status,
		&payment.Method,
		&payment.ProviderPaymentID,
		&payment.Description,
		&payment.DueAt,
		&paidAt,
		&payment.CreatedAt,
	); err != nil {
		return model.Payment{}, err
	}
	payment.Status = enums.PaymentStatus(status)
	payment.PaidAt = paidAt
	return payment, nil
}
