// Package reconcile resumes or closes sales that stopped mid-flow.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/metrics"
	"github.com/coachhub/backend/internal/services/anamnese"
)

const (
	batchSize             = 100
	reasonCheckoutStalled = "checkout_not_started"
)

type SaleStore interface {
	ListStale(ctx context.Context, status enums.SaleStatus, cutoff time.Time, limit int) ([]model.Sale, error)
	Transition(ctx context.Context, tx pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error)
}

type FormExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type FormIssuer interface {
	Issue(ctx context.Context, professionalID, saleID string) (anamnese.IssueResult, error)
}

type Config struct {
	StalePendingAfter time.Duration
	IssueAfter        time.Duration
	ResendAfter       time.Duration
}

type Job struct {
	sales  SaleStore
	forms  FormExpirer
	issuer FormIssuer
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

func New(sales SaleStore, forms FormExpirer, issuer FormIssuer, cfg Config, logger *zap.Logger) *Job {
	if cfg.StalePendingAfter <= 0 {
		cfg.StalePendingAfter = time.Hour
	}
	if cfg.IssueAfter <= 0 {
		cfg.IssueAfter = 10 * time.Minute
	}
	if cfg.ResendAfter <= 0 {
		cfg.ResendAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		sales:  sales,
		forms:  forms,
		issuer: issuer,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Run makes one pass. Errors on single sales are logged and skipped; only
// listing failures abort the pass.
func (j *Job) Run(ctx context.Context) error {
	var errs []error
	if err := j.failStalledCheckouts(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.expireForms(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.issueFormLinks(ctx, enums.SaleStatusPaymentConfirmed, j.cfg.IssueAfter, "issue_form_link"); err != nil {
		errs = append(errs, err)
	}
	if err := j.issueFormLinks(ctx, enums.SaleStatusAnamnesePending, j.cfg.ResendAfter, "resend_form_link"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (j *Job) failStalledCheckouts(ctx context.Context) error {
	if j.sales == nil {
		return nil
	}

	cutoff := j.now().UTC().Add(-j.cfg.StalePendingAfter)
	stale, err := j.sales.ListStale(ctx, enums.SaleStatusPending, cutoff, batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending sales: %w", err)
	}

	failed := 0
	for _, sale := range stale {
		if sale.ProviderSessionID != nil {
			continue
		}
		_, changed, err := j.sales.Transition(ctx, nil, sale.ID, enums.SaleStatusFailed, model.SaleUpdate{
			Metadata: map[string]any{"failure_reason": reasonCheckoutStalled},
		})
		if err != nil {
			j.logger.Warn("fail stalled checkout", zap.String("sale_id", sale.ID), zap.Error(err))
			continue
		}
		if changed {
			failed++
			metrics.SaleTransitions.WithLabelValues(string(enums.SaleStatusFailed)).Inc()
		}
	}

	if failed > 0 {
		metrics.ReconcileActions.WithLabelValues("fail_stalled_checkout").Add(float64(failed))
		j.logger.Info("reconcile stalled checkouts completed", zap.Int("failed", failed))
	}
	return nil
}

func (j *Job) expireForms(ctx context.Context) error {
	if j.forms == nil {
		return nil
	}

	expired, err := j.forms.ExpireOverdue(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("expire overdue forms: %w", err)
	}
	if expired > 0 {
		metrics.ReconcileActions.WithLabelValues("expire_form").Add(float64(expired))
		j.logger.Info("reconcile expired forms completed", zap.Int64("expired", expired))
	}
	return nil
}

// issueFormLinks sends the intake link for sales that sat in status longer
// than after: confirmed sales nobody issued a form for, and sales whose
// last delivery failed.
func (j *Job) issueFormLinks(ctx context.Context, status enums.SaleStatus, after time.Duration, action string) error {
	if j.sales == nil || j.issuer == nil {
		return nil
	}

	cutoff := j.now().UTC().Add(-after)
	waiting, err := j.sales.ListStale(ctx, status, cutoff, batchSize)
	if err != nil {
		return fmt.Errorf("list %s sales awaiting form link: %w", status, err)
	}

	sent := 0
	for _, sale := range waiting {
		result, err := j.issuer.Issue(ctx, sale.ProfessionalID, sale.ID)
		if err != nil {
			j.logger.Warn("issue form link", zap.String("sale_id", sale.ID), zap.String("status", string(status)), zap.Error(err))
			continue
		}
		if result.Delivered {
			sent++
		}
	}

	if sent > 0 {
		metrics.ReconcileActions.WithLabelValues(action).Add(float64(sent))
		j.logger.Info("reconcile form links completed",
			zap.String("action", action),
			zap.Int("sent", sent),
			zap.Int("candidates", len(waiting)),
		)
	}
	return nil
}

// Loop runs the job every interval until ctx is done.
func (j *Job) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}
