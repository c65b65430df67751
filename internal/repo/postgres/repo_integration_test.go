//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
)

// testPool connects to TEST_POSTGRES_DSN and applies the migrations.
// Run with: go test -tags integration ./internal/repo/postgres/...
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func seedPendingSale(t *testing.T, pool *pgxpool.Pool, professionalID string) model.Sale {
	t.Helper()

	ctx := context.Background()
	planID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
INSERT INTO plans (id, professional_id, name, price_cents, currency)
VALUES ($1::uuid, $2::uuid, 'Monthly coaching', 15000, 'BRL')
`, planID, professionalID); err != nil {
		t.Fatalf("insert plan: %v", err)
	}

	sale, err := NewSaleRepo(pool).CreatePending(ctx, model.Sale{
		ID:             uuid.NewString(),
		ProfessionalID: professionalID,
		PlanID:         &planID,
		CustomerName:   "Ana",
		CustomerEmail:  "ana@x.com",
		CustomerPhone:  "+5511999990000",
		AmountCents:    15000,
		Currency:       "brl",
		Metadata:       map[string]any{"plan_name": "Monthly coaching"},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sale
}

func TestSaleTransitionsFollowStatusRanks(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewSaleRepo(pool)
	professionalID := uuid.NewString()
	sale := seedPendingSale(t, pool, professionalID)

	if sale.Status != enums.SaleStatusPending || sale.Currency != "BRL" {
		t.Fatalf("unexpected pending sale: %+v", sale)
	}

	confirmed, changed, err := repo.Transition(ctx, nil, sale.ID, enums.SaleStatusPaymentConfirmed, model.SaleUpdate{
		ProviderPaymentID: "pi_" + sale.ID,
		Metadata:          map[string]any{"source": "webhook"},
	})
	if err != nil || !changed {
		t.Fatalf("confirm: changed=%v err=%v", changed, err)
	}
	if confirmed.ProviderPaymentID == nil || confirmed.Metadata["plan_name"] != "Monthly coaching" || confirmed.Metadata["source"] != "webhook" {
		t.Fatalf("confirm must record payment id and merge metadata: %+v", confirmed)
	}

	current, changed, err := repo.Transition(ctx, nil, sale.ID, enums.SaleStatusFailed, model.SaleUpdate{})
	if err != nil {
		t.Fatalf("fail after confirm: %v", err)
	}
	if changed || current.Status != enums.SaleStatusPaymentConfirmed {
		t.Fatalf("confirmed sale must not fail, got %s changed=%v", current.Status, changed)
	}

	merged, err := repo.MergeMetadata(ctx, nil, sale.ID, map[string]any{"last_payment_error": "card_declined"})
	if err != nil {
		t.Fatalf("merge metadata: %v", err)
	}
	if merged.Status != enums.SaleStatusPaymentConfirmed || merged.Metadata["last_payment_error"] != "card_declined" {
		t.Fatalf("unexpected merged sale: %+v", merged)
	}

	if _, _, err := repo.Transition(ctx, nil, "not-a-uuid", enums.SaleStatusFailed, model.SaleUpdate{}); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound for malformed id, got %v", err)
	}

	items, err := repo.ListByProfessional(ctx, professionalID, enums.SaleStatusPaymentConfirmed, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != sale.ID {
		t.Fatalf("unexpected filtered list: %+v", items)
	}
}

func TestFailedSaleCanStillBeConfirmed(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewSaleRepo(pool)
	sale := seedPendingSale(t, pool, uuid.NewString())

	if _, changed, err := repo.Transition(ctx, nil, sale.ID, enums.SaleStatusFailed, model.SaleUpdate{}); err != nil || !changed {
		t.Fatalf("fail: changed=%v err=%v", changed, err)
	}
	confirmed, changed, err := repo.Transition(ctx, nil, sale.ID, enums.SaleStatusPaymentConfirmed, model.SaleUpdate{})
	if err != nil || !changed || confirmed.Status != enums.SaleStatusPaymentConfirmed {
		t.Fatalf("late charge must confirm: status=%s changed=%v err=%v", confirmed.Status, changed, err)
	}
}

func TestInsertPaidIsIdempotentOnProviderID(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewPaymentRepo(pool)
	sale := seedPendingSale(t, pool, uuid.NewString())
	now := time.Now().UTC()

	payment := model.Payment{
		ID:                uuid.NewString(),
		ProfessionalID:    sale.ProfessionalID,
		SaleID:            sale.ID,
		AmountCents:       15000,
		Currency:          "brl",
		Method:            "card",
		ProviderPaymentID: "pi_" + sale.ID,
		DueAt:             now,
		PaidAt:            &now,
	}
	first, created, err := repo.InsertPaid(ctx, nil, payment)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	payment.ID = uuid.NewString()
	second, created, err := repo.InsertPaid(ctx, nil, payment)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("redelivery must return the stored payment, got created=%v id=%s", created, second.ID)
	}

	payments, err := repo.ListBySale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 || payments[0].Currency != "BRL" {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}

func TestOnePendingFormPerSale(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewAnamneseFormRepo(pool)
	sale := seedPendingSale(t, pool, uuid.NewString())
	expiresAt := time.Now().Add(time.Hour)

	newForm := func() model.AnamneseForm {
		return model.AnamneseForm{
			ID:             uuid.NewString(),
			SaleID:         sale.ID,
			ProfessionalID: sale.ProfessionalID,
			Phone:          sale.CustomerPhone,
			Token:          uuid.NewString(),
			ExpiresAt:      &expiresAt,
		}
	}

	first, created, err := repo.CreatePending(ctx, nil, newForm())
	if err != nil || !created {
		t.Fatalf("first form: created=%v err=%v", created, err)
	}
	second, created, err := repo.CreatePending(ctx, nil, newForm())
	if err != nil {
		t.Fatalf("second form: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("pending form must be reused, got created=%v id=%s", created, second.ID)
	}

	if err := repo.Expire(ctx, nil, first.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	third, created, err := repo.CreatePending(ctx, nil, newForm())
	if err != nil || !created || third.ID == first.ID {
		t.Fatalf("new form after expiry: created=%v id=%s err=%v", created, third.ID, err)
	}
}

func TestStudentUpsertReportsInsertAndLinksSale(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	students := NewStudentRepo(pool)
	sale := seedPendingSale(t, pool, uuid.NewString())

	candidate := model.Student{
		ID:             uuid.NewString(),
		ProfessionalID: sale.ProfessionalID,
		Name:           "Ana",
		Phone:          "+5511999990000",
		PhotoKeys:      []string{"anamnese/form-1/a.png"},
		Status:         enums.StudentStatusActive,
		SalesOriginID:  &sale.ID,
	}
	first, created, err := students.Upsert(ctx, nil, candidate)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	if _, err := pool.Exec(ctx, `UPDATE students SET points = 40 WHERE id = $1::uuid`, first.ID); err != nil {
		t.Fatalf("award points: %v", err)
	}

	candidate.ID = uuid.NewString()
	candidate.Name = "Ana Souza"
	second, created, err := students.Upsert(ctx, nil, candidate)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created || second.ID != first.ID || second.Name != "Ana Souza" || second.Points != 40 {
		t.Fatalf("upsert must overwrite the same student and keep points: created=%v %+v", created, second)
	}

	linked, changed, err := NewSaleRepo(pool).Transition(ctx, nil, sale.ID, enums.SaleStatusStudentCreated, model.SaleUpdate{StudentID: second.ID})
	if err != nil || !changed {
		t.Fatalf("link student: changed=%v err=%v", changed, err)
	}
	if linked.StudentID == nil || *linked.StudentID != second.ID {
		t.Fatalf("sale must reference the student: %+v", linked.StudentID)
	}
}
