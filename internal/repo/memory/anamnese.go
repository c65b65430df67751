package memory

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
)

type FormStore struct {
	s *Store
}

func (r *FormStore) CreatePending(ctx context.Context, _ pgx.Tx, form model.AnamneseForm) (model.AnamneseForm, bool, error) {
	defer r.s.lock(ctx)()

	if form.ID == "" || form.SaleID == "" || strings.TrimSpace(form.Token) == "" {
		return model.AnamneseForm{}, false, pgrepo.ErrInvalidPayload
	}
	if existing, ok := r.pendingBySale(form.SaleID); ok {
		return existing, false, nil
	}
	for _, other := range r.s.state.forms {
		if other.Token == form.Token {
			return model.AnamneseForm{}, false, pgrepo.ErrInvalidPayload
		}
	}

	form.Status = enums.FormStatusPending
	form.CompletedAt = nil
	form.CreatedAt = r.s.now().UTC()
	r.s.state.forms[form.ID] = form
	return form, true, nil
}

func (r *FormStore) FindPendingBySale(ctx context.Context, _ pgx.Tx, saleID string) (model.AnamneseForm, error) {
	defer r.s.lock(ctx)()

	form, ok := r.pendingBySale(saleID)
	if !ok {
		return model.AnamneseForm{}, pgrepo.ErrFormNotFound
	}
	return form, nil
}

func (r *FormStore) LockPendingByToken(ctx context.Context, _ pgx.Tx, token string, now time.Time) (model.AnamneseForm, error) {
	defer r.s.lock(ctx)()
	return r.pendingByToken(token, now)
}

func (r *FormStore) FindPendingByToken(ctx context.Context, token string, now time.Time) (model.AnamneseForm, error) {
	defer r.s.lock(ctx)()
	return r.pendingByToken(token, now)
}

func (r *FormStore) MarkCompleted(ctx context.Context, _ pgx.Tx, formID string, now time.Time) error {
	defer r.s.lock(ctx)()

	form, ok := r.s.state.forms[formID]
	if !ok || form.Status != enums.FormStatusPending {
		return pgrepo.ErrFormNotFound
	}
	completedAt := now.UTC()
	form.Status = enums.FormStatusCompleted
	form.CompletedAt = &completedAt
	r.s.state.forms[formID] = form
	return nil
}

func (r *FormStore) Expire(ctx context.Context, _ pgx.Tx, formID string) error {
	defer r.s.lock(ctx)()

	form, ok := r.s.state.forms[formID]
	if ok && form.Status == enums.FormStatusPending {
		form.Status = enums.FormStatusExpired
		r.s.state.forms[formID] = form
	}
	return nil
}

func (r *FormStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	defer r.s.lock(ctx)()

	var expired int64
	for id, form := range r.s.state.forms {
		if form.Status != enums.FormStatusPending || form.ExpiresAt == nil || form.ExpiresAt.After(now) {
			continue
		}
		form.Status = enums.FormStatusExpired
		r.s.state.forms[id] = form
		expired++
	}
	return expired, nil
}

func (r *FormStore) pendingBySale(saleID string) (model.AnamneseForm, bool) {
	for _, form := range r.s.state.forms {
		if form.SaleID == saleID && form.Status == enums.FormStatusPending {
			return form, true
		}
	}
	return model.AnamneseForm{}, false
}

func (r *FormStore) pendingByToken(token string, now time.Time) (model.AnamneseForm, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.AnamneseForm{}, pgrepo.ErrFormNotFound
	}
	for _, form := range r.s.state.forms {
		if form.Token != token {
			continue
		}
		if form.Status != enums.FormStatusPending {
			return model.AnamneseForm{}, pgrepo.ErrFormNotFound
		}
		if form.ExpiresAt != nil && !form.ExpiresAt.After(now) {
			return model.AnamneseForm{}, pgrepo.ErrFormNotFound
		}
		return form, nil
	}
	return model.AnamneseForm{}, pgrepo.ErrFormNotFound
}

type ResponseStore struct {
	s *Store
}

func (r *ResponseStore) Insert(ctx context.Context, _ pgx.Tx, resp model.AnamneseResponse) (model.AnamneseResponse, error) {
	defer r.s.lock(ctx)()

	if resp.ID == "" || resp.FormID == "" {
		return model.AnamneseResponse{}, pgrepo.ErrInvalidPayload
	}
	for _, existing := range r.s.state.responses {
		if existing.FormID == resp.FormID {
			return model.AnamneseResponse{}, pgrepo.ErrResponseExists
		}
	}
	r.s.state.responses[resp.ID] = resp
	return resp, nil
}

type StudentStore struct {
	s *Store
}

func (r *StudentStore) Upsert(ctx context.Context, _ pgx.Tx, student model.Student) (model.Student, bool, error) {
	defer r.s.lock(ctx)()

	if student.ID == "" || student.ProfessionalID == "" || strings.TrimSpace(student.Phone) == "" {
		return model.Student{}, false, pgrepo.ErrInvalidPayload
	}

	now := r.s.now().UTC()
	for id, existing := range r.s.state.students {
		if existing.ProfessionalID != student.ProfessionalID || existing.Phone != student.Phone {
			continue
		}
		student.ID = id
		student.Points = existing.Points
		student.StreakDays = existing.StreakDays
		student.CustomData = existing.CustomData
		student.CreatedAt = existing.CreatedAt
		student.UpdatedAt = now
		r.s.state.students[id] = student
		return student, false, nil
	}

	if student.CustomData == nil {
		student.CustomData = map[string]any{}
	}
	student.CreatedAt = now
	student.UpdatedAt = now
	r.s.state.students[student.ID] = student
	return student, true, nil
}

func (r *StudentStore) GetByID(ctx context.Context, studentID string) (model.Student, error) {
	defer r.s.lock(ctx)()

	student, ok := r.s.state.students[studentID]
	if !ok {
		return model.Student{}, pgrepo.ErrStudentNotFound
	}
	return student, nil
}
