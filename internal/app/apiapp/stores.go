package apiapp

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/repo/memory"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
	anamnesesvc "github.com/coachhub/backend/internal/services/anamnese"
	checkoutsvc "github.com/coachhub/backend/internal/services/checkout"
	studentsvc "github.com/coachhub/backend/internal/services/students"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type saleStore interface {
	CreatePending(ctx context.Context, sale model.Sale) (model.Sale, error)
	AttachSession(ctx context.Context, saleID, sessionID string) error
	Get(ctx context.Context, tx pgx.Tx, saleID string) (model.Sale, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, saleID string) (model.Sale, error)
	Transition(ctx context.Context, tx pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error)
	MergeMetadata(ctx context.Context, tx pgx.Tx, saleID string, metadata map[string]any) (model.Sale, error)
	ListByProfessional(ctx context.Context, professionalID string, status enums.SaleStatus, limit int) ([]model.Sale, error)
	ListStale(ctx context.Context, status enums.SaleStatus, cutoff time.Time, limit int) ([]model.Sale, error)
}

type paymentStore interface {
	InsertPaid(ctx context.Context, tx pgx.Tx, payment model.Payment) (model.Payment, bool, error)
	MarkRefunded(ctx context.Context, tx pgx.Tx, providerPaymentID string) (model.Payment, bool, error)
	ListBySale(ctx context.Context, saleID string) ([]model.Payment, error)
}

type formStore interface {
	anamnesesvc.FormStore
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type studentStore interface {
	studentsvc.StudentStore
	GetByID(ctx context.Context, studentID string) (model.Student, error)
}

// stores is the persistence backend shared by every service. Postgres in
// production, the in-memory store when no DSN is configured.
type stores struct {
	tx        txRunner
	plans     checkoutsvc.PlanStore
	sales     saleStore
	payments  paymentStore
	forms     formStore
	responses anamnesesvc.ResponseStore
	students  studentStore
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		tx:        pgrepo.NewTxRunner(pool),
		plans:     pgrepo.NewPlanRepo(pool),
		sales:     pgrepo.NewSaleRepo(pool),
		payments:  pgrepo.NewPaymentRepo(pool),
		forms:     pgrepo.NewAnamneseFormRepo(pool),
		responses: pgrepo.NewAnamneseResponseRepo(pool),
		students:  pgrepo.NewStudentRepo(pool),
	}
}

func memoryStores(store *memory.Store) stores {
	return stores{
		tx:        store,
		plans:     store.Plans(),
		sales:     store.Sales(),
		payments:  store.Payments(),
		forms:     store.Forms(),
		responses: store.Responses(),
		students:  store.Students(),
	}
}
