package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/repo/memory"
	redrepo "github.com/coachhub/backend/internal/repo/redis"
)

const testSignature = "t=1,v1=ok"

// verifierStub accepts only testSignature and returns the queued event.
type verifierStub struct {
	event Event
}

func (v *verifierStub) ParseEvent(_ []byte, signatureHeader string) (Event, error) {
	if signatureHeader != testSignature {
		return Event{}, errors.New("no signatures found matching the expected signature")
	}
	return v.event, nil
}

func newTestService(t *testing.T) (*Service, *verifierStub, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	verifier := &verifierStub{}
	svc := NewService(Dependencies{
		Verifier: verifier,
		Tx:       store,
		Sales:    store.Sales(),
		Payments: store.Payments(),
	})
	return svc, verifier, store
}

func seedSale(t *testing.T, store *memory.Store) model.Sale {
	t.Helper()

	sale, err := store.Sales().CreatePending(context.Background(), model.Sale{
		ID:             "sale-1",
		ProfessionalID: "pro1",
		CustomerName:   "Ana",
		CustomerEmail:  "ana@x.com",
		CustomerPhone:  "+5511999990000",
		AmountCents:    15000,
		Currency:       "BRL",
		Metadata:       map[string]any{"plan_name": "Monthly coaching"},
	})
	if err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	return sale
}

func succeededEvent(saleID string) Event {
	return Event{
		ID:                "evt_1",
		Type:              EventPaymentSucceeded,
		SaleID:            saleID,
		ProviderPaymentID: "pi_1",
		AmountMinor:       15000,
		Currency:          "BRL",
	}
}

func TestHandleWebhookRedeliveryCreatesOnePayment(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)
	verifier.event = succeededEvent(sale.ID)

	first, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !first.Handled || first.Idempotent {
		t.Fatalf("first delivery must apply, got %+v", first)
	}
	if first.SaleStatus != enums.SaleStatusPaymentConfirmed {
		t.Fatalf("unexpected sale status: %s", first.SaleStatus)
	}

	second, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !second.Idempotent {
		t.Fatalf("redelivery must be flagged idempotent")
	}
	if store.CountPayments() != 1 {
		t.Fatalf("expected exactly one payment, got %d", store.CountPayments())
	}

	payment, err := store.Payments().FindByProviderID(context.Background(), nil, "pi_1")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if payment.AmountCents != 15000 || payment.Status != enums.PaymentStatusPaid || payment.PaidAt == nil {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if payment.Description != "Plan purchase: Monthly coaching" {
		t.Fatalf("unexpected payment description: %q", payment.Description)
	}

	updated, err := store.Sales().Get(context.Background(), nil, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if updated.ProviderPaymentID == nil || *updated.ProviderPaymentID != "pi_1" {
		t.Fatalf("provider payment id must be recorded on the sale")
	}
}

func TestHandleWebhookRejectsBadSignatureWithoutChanges(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)
	verifier.event = succeededEvent(sale.ID)

	_, err := svc.HandleWebhook(context.Background(), []byte("{}"), "t=1,v1=forged")
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
	if store.CountPayments() != 0 {
		t.Fatalf("bad signature must not write payments")
	}
	current, _ := store.Sales().Get(context.Background(), nil, sale.ID)
	if current.Status != enums.SaleStatusPending {
		t.Fatalf("bad signature must not move the sale, got %s", current.Status)
	}
}

func TestHandleWebhookWithoutSaleIDIsNoop(t *testing.T) {
	svc, verifier, store := newTestService(t)
	verifier.event = succeededEvent("")

	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Handled {
		t.Fatalf("event without sale id must not be handled")
	}
	if store.CountPayments() != 0 {
		t.Fatalf("event without sale id must not create payments")
	}
}

func TestHandleWebhookUnknownSaleFails(t *testing.T) {
	svc, verifier, store := newTestService(t)
	verifier.event = succeededEvent("missing-sale")

	_, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
	if store.CountPayments() != 0 {
		t.Fatalf("unknown sale must not keep a payment")
	}
}

func TestHandleWebhookIgnoresOtherEventTypes(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)
	verifier.event = Event{ID: "evt_9", Type: "customer.created", SaleID: sale.ID}

	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Handled {
		t.Fatalf("unrelated event must be ignored")
	}
}

func TestHandleWebhookLateExpiryDoesNotRegressConfirmedSale(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)

	verifier.event = succeededEvent(sale.ID)
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	verifier.event = Event{ID: "evt_2", Type: EventCheckoutExpired, SaleID: sale.ID}
	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("expired event: %v", err)
	}
	if result.SaleStatus != enums.SaleStatusPaymentConfirmed || !result.Idempotent {
		t.Fatalf("late expiry must leave sale confirmed, got %+v", result)
	}
}

func TestHandleWebhookExpiredSessionFailsPendingSale(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)
	verifier.event = Event{ID: "evt_3", Type: EventCheckoutExpired, SaleID: sale.ID}

	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("expired event: %v", err)
	}
	if result.SaleStatus != enums.SaleStatusFailed {
		t.Fatalf("expected failed sale, got %s", result.SaleStatus)
	}
	current, _ := store.Sales().Get(context.Background(), nil, sale.ID)
	if current.Metadata["failure_reason"] != EventCheckoutExpired {
		t.Fatalf("failure reason must be recorded, got %v", current.Metadata)
	}
}

func TestHandleWebhookRefundMarksPaymentAndSale(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)

	verifier.event = succeededEvent(sale.ID)
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	verifier.event = Event{ID: "evt_4", Type: EventChargeRefunded, ProviderPaymentID: "pi_1"}
	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("refund event: %v", err)
	}
	if result.SaleStatus != enums.SaleStatusRefunded || result.SaleID != sale.ID {
		t.Fatalf("unexpected refund result: %+v", result)
	}
	payment, _ := store.Payments().FindByProviderID(context.Background(), nil, "pi_1")
	if payment.Status != enums.PaymentStatusRefunded {
		t.Fatalf("payment must be refunded, got %s", payment.Status)
	}
}

func TestHandleWebhookEventCacheShortCircuitsRedelivery(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	svc, verifier, store := newTestService(t)
	svc.cache = redrepo.NewEventCache(client, 0)
	sale := seedSale(t, store)
	verifier.event = succeededEvent(sale.ID)

	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !mr.Exists("webhook:processed:evt_1") {
		t.Fatalf("processed event must be cached")
	}

	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !result.Idempotent || result.PaymentID != "" {
		t.Fatalf("cached event must short-circuit, got %+v", result)
	}
	if store.CountPayments() != 1 {
		t.Fatalf("expected one payment, got %d", store.CountPayments())
	}
}

func TestHandleWebhookDeclineThenRetrySucceeds(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)

	verifier.event = Event{ID: "evt_5", Type: EventPaymentFailed, SaleID: sale.ID, FailureReason: "card_declined"}
	declined, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("declined event: %v", err)
	}
	if declined.SaleStatus != enums.SaleStatusPaymentProcessing {
		t.Fatalf("declined attempt must keep the sale open, got %s", declined.SaleStatus)
	}

	verifier.event = Event{ID: "evt_6", Type: EventPaymentFailed, SaleID: sale.ID, FailureReason: "insufficient_funds"}
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature); err != nil {
		t.Fatalf("second declined event: %v", err)
	}
	current, _ := store.Sales().Get(context.Background(), nil, sale.ID)
	if current.Status != enums.SaleStatusPaymentProcessing || current.Metadata["last_payment_error"] != "insufficient_funds" {
		t.Fatalf("latest decline must be recorded, got %s %v", current.Status, current.Metadata)
	}

	verifier.event = succeededEvent(sale.ID)
	paid, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("succeeded event: %v", err)
	}
	if paid.SaleStatus != enums.SaleStatusPaymentConfirmed {
		t.Fatalf("retry after decline must confirm the sale, got %s", paid.SaleStatus)
	}
	if store.CountPayments() != 1 {
		t.Fatalf("expected one payment, got %d", store.CountPayments())
	}
}

func TestHandleWebhookLateChargeConfirmsFailedSale(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)

	verifier.event = Event{ID: "evt_7", Type: EventCheckoutExpired, SaleID: sale.ID}
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature); err != nil {
		t.Fatalf("expired event: %v", err)
	}

	verifier.event = succeededEvent(sale.ID)
	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("succeeded event: %v", err)
	}
	if result.SaleStatus != enums.SaleStatusPaymentConfirmed {
		t.Fatalf("late charge must confirm a failed sale, got %s", result.SaleStatus)
	}
	current, _ := store.Sales().Get(context.Background(), nil, sale.ID)
	if current.ProviderPaymentID == nil || *current.ProviderPaymentID != "pi_1" {
		t.Fatalf("provider payment id must be recorded on the recovered sale")
	}
}

func TestHandleWebhookDeclineAfterConfirmationIsNoop(t *testing.T) {
	svc, verifier, store := newTestService(t)
	sale := seedSale(t, store)

	verifier.event = succeededEvent(sale.ID)
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	verifier.event = Event{ID: "evt_8", Type: EventPaymentFailed, SaleID: sale.ID, FailureReason: "card_declined"}
	result, err := svc.HandleWebhook(context.Background(), []byte("{}"), testSignature)
	if err != nil {
		t.Fatalf("declined event: %v", err)
	}
	if result.SaleStatus != enums.SaleStatusPaymentConfirmed || !result.Idempotent {
		t.Fatalf("late decline must leave the sale confirmed, got %+v", result)
	}
	current, _ := store.Sales().Get(context.Background(), nil, sale.ID)
	if _, ok := current.Metadata["last_payment_error"]; ok {
		t.Fatalf("late decline must not touch a confirmed sale")
	}
}
