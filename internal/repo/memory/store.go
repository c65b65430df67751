// Package memory is an in-process implementation of the sales provisioning
// stores. It keeps the same uniqueness rules as the Postgres schema and rolls
// back every write of a failed transaction. Used by tests and by the API when
// no Postgres DSN is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coachhub/backend/internal/domain/model"
)

type txKey struct{}

type state struct {
	plans     map[string]model.Plan
	sales     map[string]model.Sale
	payments  map[string]model.Payment
	forms     map[string]model.AnamneseForm
	responses map[string]model.AnamneseResponse
	students  map[string]model.Student
}

type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		state: state{
			plans:     make(map[string]model.Plan),
			sales:     make(map[string]model.Sale),
			payments:  make(map[string]model.Payment),
			forms:     make(map[string]model.AnamneseForm),
			responses: make(map[string]model.AnamneseResponse),
			students:  make(map[string]model.Student),
		},
		now: time.Now,
	}
}

// WithinTx serializes fn against every other store call and restores the
// previous state when fn fails. The pgx.Tx passed to fn is always nil.
func (s *Store) WithinTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if inTx(ctx, s) {
		return fn(ctx, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s), nil); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx, s) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func inTx(ctx context.Context, s *Store) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) AddPlan(plan model.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.plans[plan.ID] = plan
}

func (s *Store) SetPlanPrice(planID string, priceCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan, ok := s.state.plans[planID]; ok {
		plan.PriceCents = priceCents
		s.state.plans[planID] = plan
	}
}

func (s *Store) CountSales() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.sales)
}

func (s *Store) CountPayments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.payments)
}

func (s *Store) CountResponses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.responses)
}

func (s *Store) CountStudents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.students)
}

func (s *Store) Plans() *PlanStore         { return &PlanStore{s: s} }
func (s *Store) Sales() *SaleStore         { return &SaleStore{s: s} }
func (s *Store) Payments() *PaymentStore   { return &PaymentStore{s: s} }
func (s *Store) Forms() *FormStore         { return &FormStore{s: s} }
func (s *Store) Responses() *ResponseStore { return &ResponseStore{s: s} }
func (s *Store) Students() *StudentStore   { return &StudentStore{s: s} }

func (st state) clone() state {
	out := state{
		plans:     make(map[string]model.Plan, len(st.plans)),
		sales:     make(map[string]model.Sale, len(st.sales)),
		payments:  make(map[string]model.Payment, len(st.payments)),
		forms:     make(map[string]model.AnamneseForm, len(st.forms)),
		responses: make(map[string]model.AnamneseResponse, len(st.responses)),
		students:  make(map[string]model.Student, len(st.students)),
	}
	for k, v := range st.plans {
		out.plans[k] = v
	}
	for k, v := range st.sales {
		v.Metadata = cloneMap(v.Metadata)
		out.sales[k] = v
	}
	for k, v := range st.payments {
		out.payments[k] = v
	}
	for k, v := range st.forms {
		out.forms[k] = v
	}
	for k, v := range st.responses {
		out.responses[k] = v
	}
	for k, v := range st.students {
		v.CustomData = cloneMap(v.CustomData)
		out.students[k] = v
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func strPtr(v string) *string {
	return &v
}
