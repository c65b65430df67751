package sales

import (
	"context"
	"errors"
	"testing"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/repo/memory"
)

func seed(t *testing.T, store *memory.Store, id, professionalID string) {
	t.Helper()

	if _, err := store.Sales().CreatePending(context.Background(), model.Sale{
		ID:             id,
		ProfessionalID: professionalID,
		AmountCents:    15000,
		Currency:       "BRL",
	}); err != nil {
		t.Fatalf("create sale %s: %v", id, err)
	}
}

func TestListFiltersByProfessionalAndStatus(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "s1", "pro1")
	seed(t, store, "s2", "pro1")
	seed(t, store, "s3", "pro2")
	if _, _, err := store.Sales().Transition(context.Background(), nil, "s2", enums.SaleStatusFailed, model.SaleUpdate{}); err != nil {
		t.Fatalf("fail sale: %v", err)
	}
	svc := NewService(Dependencies{Sales: store.Sales(), Payments: store.Payments()})

	all, err := svc.List(context.Background(), "pro1", "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sales for pro1, got %d", len(all))
	}

	failed, err := svc.List(context.Background(), "pro1", enums.SaleStatusFailed, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "s2" {
		t.Fatalf("unexpected filtered list: %+v", failed)
	}

	if _, err := svc.List(context.Background(), "pro1", "archived", 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "s1", "pro1")
	svc := NewService(Dependencies{Sales: store.Sales(), Payments: store.Payments()})

	details, err := svc.Get(context.Background(), "pro1", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if details.Sale.ID != "s1" || details.Payments == nil {
		t.Fatalf("unexpected details: %+v", details)
	}

	if _, err := svc.Get(context.Background(), "pro2", "s1"); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound for foreign sale, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "pro1", "missing"); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}

type photoSignerStub struct {
	err error
}

func (p *photoSignerStub) SignedURLs(_ context.Context, keys []string) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		urls = append(urls, "https://signed.test/"+key)
	}
	return urls, nil
}

func provisionedSale(t *testing.T, store *memory.Store) {
	t.Helper()

	ctx := context.Background()
	seed(t, store, "s1", "pro1")
	student, _, err := store.Students().Upsert(ctx, nil, model.Student{
		ID:             "st1",
		ProfessionalID: "pro1",
		Name:           "Ana",
		Phone:          "+5511999990000",
		PhotoKeys:      []string{"anamnese/form-1/a.png"},
		Status:         enums.StudentStatusActive,
	})
	if err != nil {
		t.Fatalf("upsert student: %v", err)
	}
	if _, _, err := store.Sales().Transition(ctx, nil, "s1", enums.SaleStatusStudentCreated, model.SaleUpdate{StudentID: student.ID}); err != nil {
		t.Fatalf("link student: %v", err)
	}
}

func TestGetSignsStudentPhotosOnRead(t *testing.T) {
	store := memory.NewStore()
	provisionedSale(t, store)
	svc := NewService(Dependencies{
		Sales:    store.Sales(),
		Payments: store.Payments(),
		Students: store.Students(),
		Photos:   &photoSignerStub{},
	})

	details, err := svc.Get(context.Background(), "pro1", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if details.Student == nil || details.Student.ID != "st1" {
		t.Fatalf("student must be loaded, got %+v", details.Student)
	}
	if len(details.PhotoURLs) != 1 || details.PhotoURLs[0] != "https://signed.test/anamnese/form-1/a.png" {
		t.Fatalf("unexpected photo urls: %v", details.PhotoURLs)
	}
}

func TestGetKeepsDetailsWhenSigningFails(t *testing.T) {
	store := memory.NewStore()
	provisionedSale(t, store)
	svc := NewService(Dependencies{
		Sales:    store.Sales(),
		Payments: store.Payments(),
		Students: store.Students(),
		Photos:   &photoSignerStub{err: errors.New("s3 unavailable")},
	})

	details, err := svc.Get(context.Background(), "pro1", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if details.Student == nil || len(details.PhotoURLs) != 0 {
		t.Fatalf("student without photo urls expected, got %+v %v", details.Student, details.PhotoURLs)
	}
}
