// Package stripe adapts the Stripe API to the checkout and payments services.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/coachhub/backend/internal/services/checkout"
	"github.com/coachhub/backend/internal/services/payments"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Gateway struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// New builds a gateway. Network retries are left to the caller so that
// checkout owns the retry policy.
func New(cfg Config, httpClient *http.Client) *Gateway {
	backendCfg := &stripego.BackendConfig{
		MaxNetworkRetries: stripego.Int64(0),
	}
	if httpClient != nil {
		backendCfg.HTTPClient = httpClient
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, stripego.NewBackendsWithConfig(backendCfg))

	return &Gateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

func (g *Gateway) CreateSession(ctx context.Context, req checkout.SessionRequest) (checkout.Session, error) {
	if g.api == nil {
		return checkout.Session{}, fmt.Errorf("stripe client is not configured")
	}

	metadata := map[string]string{checkout.MetadataSaleID: req.SaleID}
	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(g.successURL),
		CancelURL:         stripego.String(g.cancelURL),
		CustomerEmail:     stripego.String(req.CustomerEmail),
		ClientReferenceID: stripego.String(req.SaleID),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Quantity: stripego.Int64(1),
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripego.String(strings.ToLower(req.Currency)),
					UnitAmount: stripego.Int64(req.AmountCents),
					ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripego.String(req.PlanName),
					},
				},
			},
		},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	params.AddMetadata(checkout.MetadataSaleID, req.SaleID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return checkout.Session{}, classify(err)
	}
	return checkout.Session{ID: session.ID, URL: session.URL}, nil
}

// classify marks rate limits, 5xx answers and transport failures as transient.
func classify(err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: stripe status %d: %s", checkout.ErrProviderTransient, stripeErr.HTTPStatusCode, stripeErr.Msg)
		}
		return fmt.Errorf("stripe rejected checkout session: %s", stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", checkout.ErrProviderTransient, err)
}

// ParseEvent verifies the Stripe-Signature header and reduces the event to
// the fields the payments service acts on.
func (g *Gateway) ParseEvent(payload []byte, signatureHeader string) (payments.Event, error) {
	if g.webhookSecret == "" {
		return payments.Event{}, fmt.Errorf("%w: webhook secret is not configured", payments.ErrSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payments.Event{}, fmt.Errorf("%w: %v", payments.ErrSignature, err)
	}

	out := payments.Event{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case payments.EventPaymentSucceeded, payments.EventPaymentFailed:
		var intent stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return payments.Event{}, fmt.Errorf("%w: decode payment intent: %v", payments.ErrValidation, err)
		}
		out.SaleID = intent.Metadata[checkout.MetadataSaleID]
		out.ProviderPaymentID = intent.ID
		out.AmountMinor = intent.Amount
		out.Currency = strings.ToUpper(string(intent.Currency))
		if len(intent.PaymentMethodTypes) > 0 {
			out.Method = intent.PaymentMethodTypes[0]
		}
		if intent.LastPaymentError != nil {
			out.FailureReason = string(intent.LastPaymentError.Code)
			if out.FailureReason == "" {
				out.FailureReason = intent.LastPaymentError.Msg
			}
		}
	case payments.EventCheckoutCompleted, payments.EventCheckoutExpired:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return payments.Event{}, fmt.Errorf("%w: decode checkout session: %v", payments.ErrValidation, err)
		}
		out.SessionID = session.ID
		out.SaleID = session.Metadata[checkout.MetadataSaleID]
		if out.SaleID == "" {
			out.SaleID = session.ClientReferenceID
		}
		if session.PaymentIntent != nil {
			out.ProviderPaymentID = session.PaymentIntent.ID
		}
		out.AmountMinor = session.AmountTotal
		out.Currency = strings.ToUpper(string(session.Currency))
	case payments.EventChargeRefunded:
		var charge stripego.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return payments.Event{}, fmt.Errorf("%w: decode charge: %v", payments.ErrValidation, err)
		}
		if charge.PaymentIntent != nil {
			out.ProviderPaymentID = charge.PaymentIntent.ID
		}
		out.SaleID = charge.Metadata[checkout.MetadataSaleID]
		out.AmountMinor = charge.AmountRefunded
		out.Currency = strings.ToUpper(string(charge.Currency))
	}
	return out, nil
}
