package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
)

type PlanStore struct {
	s *Store
}

func (p *PlanStore) GetByID(ctx context.Context, planID string) (model.Plan, error) {
	defer p.s.lock(ctx)()

	plan, ok := p.s.state.plans[planID]
	if !ok {
		return model.Plan{}, pgrepo.ErrPlanNotFound
	}
	return plan, nil
}

type SaleStore struct {
	s *Store
}

func (r *SaleStore) CreatePending(ctx context.Context, sale model.Sale) (model.Sale, error) {
	defer r.s.lock(ctx)()

	if sale.ID == "" || sale.ProfessionalID == "" || sale.AmountCents <= 0 {
		return model.Sale{}, pgrepo.ErrInvalidPayload
	}
	if _, exists := r.s.state.sales[sale.ID]; exists {
		return model.Sale{}, pgrepo.ErrInvalidPayload
	}

	now := r.s.now().UTC()
	sale.Status = enums.SaleStatusPending
	sale.Currency = strings.ToUpper(sale.Currency)
	sale.Metadata = cloneMap(sale.Metadata)
	sale.ProviderSessionID = nil
	sale.ProviderPaymentID = nil
	sale.StudentID = nil
	sale.CreatedAt = now
	sale.UpdatedAt = now
	r.s.state.sales[sale.ID] = sale
	return sale, nil
}

func (r *SaleStore) Get(ctx context.Context, _ pgx.Tx, saleID string) (model.Sale, error) {
	defer r.s.lock(ctx)()
	return r.get(saleID)
}

func (r *SaleStore) GetForUpdate(ctx context.Context, _ pgx.Tx, saleID string) (model.Sale, error) {
	defer r.s.lock(ctx)()
	return r.get(saleID)
}

func (r *SaleStore) get(saleID string) (model.Sale, error) {
	sale, ok := r.s.state.sales[saleID]
	if !ok {
		return model.Sale{}, pgrepo.ErrSaleNotFound
	}
	return sale, nil
}

func (r *SaleStore) AttachSession(ctx context.Context, saleID, sessionID string) error {
	defer r.s.lock(ctx)()

	if strings.TrimSpace(sessionID) == "" {
		return pgrepo.ErrInvalidPayload
	}
	sale, ok := r.s.state.sales[saleID]
	if !ok {
		return pgrepo.ErrSaleNotFound
	}
	sale.ProviderSessionID = strPtr(sessionID)
	sale.UpdatedAt = r.s.now().UTC()
	r.s.state.sales[saleID] = sale
	return nil
}

func (r *SaleStore) Transition(ctx context.Context, _ pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error) {
	defer r.s.lock(ctx)()

	sale, ok := r.s.state.sales[saleID]
	if !ok {
		return model.Sale{}, false, pgrepo.ErrSaleNotFound
	}
	if !sale.Status.CanAdvanceTo(to) {
		return sale, false, nil
	}

	if update.ProviderPaymentID != "" {
		for id, other := range r.s.state.sales {
			if id != saleID && other.ProviderPaymentID != nil && *other.ProviderPaymentID == update.ProviderPaymentID {
				return model.Sale{}, false, pgrepo.ErrInvalidPayload
			}
		}
		sale.ProviderPaymentID = strPtr(update.ProviderPaymentID)
	}
	if update.ProviderSessionID != "" {
		sale.ProviderSessionID = strPtr(update.ProviderSessionID)
	}
	if update.StudentID != "" {
		sale.StudentID = strPtr(update.StudentID)
	}
	if len(update.Metadata) > 0 {
		merged := cloneMap(sale.Metadata)
		for k, v := range update.Metadata {
			merged[k] = v
		}
		sale.Metadata = merged
	}
	sale.Status = to
	sale.UpdatedAt = r.s.now().UTC()
	r.s.state.sales[saleID] = sale
	return sale, true, nil
}

func (r *SaleStore) MergeMetadata(ctx context.Context, _ pgx.Tx, saleID string, metadata map[string]any) (model.Sale, error) {
	defer r.s.lock(ctx)()

	sale, ok := r.s.state.sales[saleID]
	if !ok {
		return model.Sale{}, pgrepo.ErrSaleNotFound
	}
	merged := cloneMap(sale.Metadata)
	for k, v := range metadata {
		merged[k] = v
	}
	sale.Metadata = merged
	sale.UpdatedAt = r.s.now().UTC()
	r.s.state.sales[saleID] = sale
	return sale, nil
}

func (r *SaleStore) ListByProfessional(ctx context.Context, professionalID string, status enums.SaleStatus, limit int) ([]model.Sale, error) {
	defer r.s.lock(ctx)()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items := make([]model.Sale, 0)
	for _, sale := range r.s.state.sales {
		if sale.ProfessionalID != professionalID {
			continue
		}
		if status != "" && sale.Status != status {
			continue
		}
		items = append(items, sale)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *SaleStore) ListStale(ctx context.Context, status enums.SaleStatus, cutoff time.Time, limit int) ([]model.Sale, error) {
	defer r.s.lock(ctx)()

	if limit <= 0 {
		limit = 100
	}
	items := make([]model.Sale, 0)
	for _, sale := range r.s.state.sales {
		if sale.Status == status && sale.UpdatedAt.Before(cutoff) {
			items = append(items, sale)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type PaymentStore struct {
	s *Store
}

func (r *PaymentStore) InsertPaid(ctx context.Context, _ pgx.Tx, payment model.Payment) (model.Payment, bool, error) {
	defer r.s.lock(ctx)()

	if payment.ID == "" || payment.SaleID == "" || strings.TrimSpace(payment.ProviderPaymentID) == "" {
		return model.Payment{}, false, pgrepo.ErrInvalidPayload
	}
	if existing, ok := r.findByProviderID(payment.ProviderPaymentID); ok {
		return existing, false, nil
	}

	payment.Status = enums.PaymentStatusPaid
	payment.Currency = strings.ToUpper(payment.Currency)
	payment.CreatedAt = r.s.now().UTC()
	r.s.state.payments[payment.ID] = payment
	return payment, true, nil
}

func (r *PaymentStore) FindByProviderID(ctx context.Context, _ pgx.Tx, providerPaymentID string) (model.Payment, error) {
	defer r.s.lock(ctx)()

	payment, ok := r.findByProviderID(providerPaymentID)
	if !ok {
		return model.Payment{}, pgrepo.ErrPaymentNotFound
	}
	return payment, nil
}

func (r *PaymentStore) MarkRefunded(ctx context.Context, _ pgx.Tx, providerPaymentID string) (model.Payment, bool, error) {
	defer r.s.lock(ctx)()

	payment, ok := r.findByProviderID(providerPaymentID)
	if !ok {
		return model.Payment{}, false, pgrepo.ErrPaymentNotFound
	}
	if payment.Status == enums.PaymentStatusRefunded {
		return payment, false, nil
	}
	payment.Status = enums.PaymentStatusRefunded
	r.s.state.payments[payment.ID] = payment
	return payment, true, nil
}

func (r *PaymentStore) ListBySale(ctx context.Context, saleID string) ([]model.Payment, error) {
	defer r.s.lock(ctx)()

	items := make([]model.Payment, 0)
	for _, payment := range r.s.state.payments {
		if payment.SaleID == saleID {
			items = append(items, payment)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *PaymentStore) findByProviderID(providerPaymentID string) (model.Payment, bool) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	for _, payment := range r.s.state.payments {
		if payment.ProviderPaymentID == providerPaymentID {
			return payment, true
		}
	}
	return model.Payment{}, false
}
