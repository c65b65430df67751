package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	stripeinfra "github.com/coachhub/backend/internal/infra/stripe"
	"github.com/coachhub/backend/internal/repo/memory"
	anamnesesvc "github.com/coachhub/backend/internal/services/anamnese"
	authsvc "github.com/coachhub/backend/internal/services/auth"
	checkoutsvc "github.com/coachhub/backend/internal/services/checkout"
	mediasvc "github.com/coachhub/backend/internal/services/media"
	paymentsvc "github.com/coachhub/backend/internal/services/payments"
	salessvc "github.com/coachhub/backend/internal/services/sales"
	studentsvc "github.com/coachhub/backend/internal/services/students"
	"github.com/coachhub/backend/internal/transport/http/dto"
)

const flowWebhookSecret = "whsec_flow"

type sessionProviderStub struct {
	calls int
	err   error
}

func (p *sessionProviderStub) CreateSession(_ context.Context, req checkoutsvc.SessionRequest) (checkoutsvc.Session, error) {
	p.calls++
	if p.err != nil {
		return checkoutsvc.Session{}, p.err
	}
	return checkoutsvc.Session{
		ID:  fmt.Sprintf("cs_test_%d", p.calls),
		URL: "https://checkout.stripe.test/pay/" + req.SaleID,
	}, nil
}

type flowEnv struct {
	store    *memory.Store
	provider *sessionProviderStub
	router   http.Handler
}

// newFlowEnv wires the public and dashboard routes over the in-memory store.
// Dashboard requests are authenticated as professional "pro1".
func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()

	store := memory.NewStore()
	store.AddPlan(model.Plan{
		ID:             "p1",
		ProfessionalID: "pro1",
		Name:           "Monthly coaching",
		PriceCents:     15000,
		Currency:       "BRL",
		Active:         true,
	})

	provider := &sessionProviderStub{}
	checkout := checkoutsvc.NewService(checkoutsvc.Dependencies{
		Plans:    store.Plans(),
		Sales:    store.Sales(),
		Provider: provider,
		Retry:    checkoutsvc.RetryConfig{Attempts: 1, Delay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	payments := paymentsvc.NewService(paymentsvc.Dependencies{
		Verifier: stripeinfra.New(stripeinfra.Config{SecretKey: "sk_test_x", WebhookSecret: flowWebhookSecret}, nil),
		Tx:       store,
		Sales:    store.Sales(),
		Payments: store.Payments(),
	})
	resolver := studentsvc.NewResolver(studentsvc.Dependencies{
		Students: store.Students(),
		Sales:    store.Sales(),
	})
	anamnese := anamnesesvc.NewService(anamnesesvc.Dependencies{
		Tx:        store,
		Forms:     store.Forms(),
		Responses: store.Responses(),
		Sales:     store.Sales(),
		Resolver:  resolver,
	})
	media := mediasvc.NewService(anamnese, &memoryObjectStorage{objects: map[string][]byte{}}, nil)
	sales := salessvc.NewService(salessvc.Dependencies{
		Sales:    store.Sales(),
		Payments: store.Payments(),
		Students: store.Students(),
		Photos:   media,
	})

	checkoutHandler := NewCheckoutHandler(checkout, nil)
	webhookHandler := NewWebhookHandler(payments, nil)
	anamneseHandler := NewAnamneseHandler(anamnese, media, nil)
	salesHandler := NewSalesHandler(sales, anamnese, nil)

	asPro := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authsvc.WithIdentity(r.Context(), authsvc.Identity{ProfessionalID: "pro1", Role: authsvc.RoleProfessional})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	r := chi.NewRouter()
	r.Post("/v1/checkout/sessions", checkoutHandler.Create)
	r.Post("/v1/payments/webhook", webhookHandler.Handle)
	r.Get("/v1/anamnese/forms/{token}", anamneseHandler.GetForm)
	r.Post("/v1/anamnese/submit", anamneseHandler.Submit)
	r.Post("/v1/anamnese/forms/{token}/photos", anamneseHandler.UploadPhoto)
	r.With(asPro).Get("/v1/sales", salesHandler.List)
	r.With(asPro).Get("/v1/sales/{id}", salesHandler.Get)
	r.With(asPro).Post("/v1/sales/{id}/anamnese", salesHandler.IssueForm)

	return &flowEnv{store: store, provider: provider, router: r}
}

func (e *flowEnv) do(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil && header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *flowEnv) postJSON(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return e.do(t, http.MethodPost, path, body, nil)
}

func (e *flowEnv) deliverPaymentSucceeded(t *testing.T, saleID, paymentID string) *httptest.ResponseRecorder {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(fmt.Sprintf(`{
			"id": "evt_%s",
			"object": "event",
			"type": "payment_intent.succeeded",
			"data": {"object": {
				"id": %q,
				"object": "payment_intent",
				"amount": 15000,
				"currency": "brl",
				"payment_method_types": ["card"],
				"metadata": {"sale_id": %q}
			}}
		}`, paymentID, paymentID, saleID)),
		Secret:    flowWebhookSecret,
		Timestamp: time.Now(),
	})
	header := http.Header{}
	header.Set("Stripe-Signature", signed.Header)
	return e.do(t, http.MethodPost, "/v1/payments/webhook", signed.Payload, header)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestPurchaseToStudentFlow(t *testing.T) {
	env := newFlowEnv(t)

	rr := env.postJSON(t, "/v1/checkout/sessions", dto.CheckoutRequest{
		PlanID:         "p1",
		Email:          "ana@x.com",
		Name:           "Ana",
		Phone:          "+55 11 99999-0000",
		ProfessionalID: "pro1",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("checkout: got %d body %s", rr.Code, rr.Body.String())
	}
	var checkout dto.CheckoutResponse
	decodeBody(t, rr, &checkout)
	if checkout.SaleID == "" || checkout.SessionID == "" || checkout.SessionURL == "" {
		t.Fatalf("incomplete checkout response: %+v", checkout)
	}

	rr = env.deliverPaymentSucceeded(t, checkout.SaleID, "pi_flow")
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook: got %d body %s", rr.Code, rr.Body.String())
	}
	var received dto.WebhookResponse
	decodeBody(t, rr, &received)
	if !received.Received {
		t.Fatalf("webhook must acknowledge receipt")
	}

	rr = env.deliverPaymentSucceeded(t, checkout.SaleID, "pi_flow")
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook redelivery: got %d body %s", rr.Code, rr.Body.String())
	}
	if env.store.CountPayments() != 1 {
		t.Fatalf("redelivery must not add a payment, got %d", env.store.CountPayments())
	}

	rr = env.do(t, http.MethodPost, "/v1/sales/"+checkout.SaleID+"/anamnese", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("issue form: got %d body %s", rr.Code, rr.Body.String())
	}
	var issued dto.AnamneseIssueResponse
	decodeBody(t, rr, &issued)
	if issued.Token == "" || issued.Status != string(enums.FormStatusPending) {
		t.Fatalf("unexpected issue response: %+v", issued)
	}

	rr = env.do(t, http.MethodGet, "/v1/anamnese/forms/"+issued.Token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get form: got %d body %s", rr.Code, rr.Body.String())
	}

	photoBody, photoType := multipartPhoto(t, "photo", pngHeader)
	rr = env.do(t, http.MethodPost, "/v1/anamnese/forms/"+issued.Token+"/photos", photoBody.Bytes(), http.Header{"Content-Type": {photoType}})
	if rr.Code != http.StatusOK {
		t.Fatalf("upload photo: got %d body %s", rr.Code, rr.Body.String())
	}
	var photo dto.PhotoUploadResponse
	decodeBody(t, rr, &photo)

	foreign := dto.AnamneseSubmitRequest{
		FormLinkToken: issued.Token,
		FormData: dto.AnamneseFormData{
			Name:      "Ana Souza",
			PhotoKeys: []string{"https://elsewhere.example/anamnese/" + issued.FormID + "/x.png"},
		},
	}
	rr = env.postJSON(t, "/v1/anamnese/submit", foreign)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("submit with foreign photo: got %d want %d", rr.Code, http.StatusBadRequest)
	}
	if env.store.CountResponses() != 0 {
		t.Fatalf("rejected submit must not store a response")
	}

	weight := 62.5
	submit := dto.AnamneseSubmitRequest{
		FormLinkToken: issued.Token,
		FormData: dto.AnamneseFormData{
			Name:             "Ana Souza",
			Phone:            "+55 (11) 99999-0000",
			Weight:           &weight,
			Goal:             "hypertrophy",
			HealthConditions: []string{"asthma"},
			PhotoKeys:        []string{photo.Key},
		},
	}
	rr = env.postJSON(t, "/v1/anamnese/submit", submit)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit: got %d body %s", rr.Code, rr.Body.String())
	}
	var submitted dto.AnamneseSubmitResponse
	decodeBody(t, rr, &submitted)
	if !submitted.Success || submitted.StudentID == "" {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}

	rr = env.postJSON(t, "/v1/anamnese/submit", submit)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("second submit: got %d want %d", rr.Code, http.StatusBadRequest)
	}
	var apiErr map[string]string
	decodeBody(t, rr, &apiErr)
	if apiErr["code"] != "INVALID_FORM_LINK" || apiErr["error"] == "" {
		t.Fatalf("unexpected error body: %v", apiErr)
	}
	if env.store.CountStudents() != 1 || env.store.CountResponses() != 1 {
		t.Fatalf("double submit must not write twice: students=%d responses=%d",
			env.store.CountStudents(), env.store.CountResponses())
	}

	rr = env.do(t, http.MethodGet, "/v1/sales/"+checkout.SaleID, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get sale: got %d body %s", rr.Code, rr.Body.String())
	}
	var details dto.SaleDetailsResponse
	decodeBody(t, rr, &details)
	if details.Sale.Status != string(enums.SaleStatusStudentCreated) {
		t.Fatalf("unexpected sale status: %s", details.Sale.Status)
	}
	if details.Sale.Amount != "150.00" || details.Sale.Currency != "BRL" {
		t.Fatalf("unexpected sale amount: %s %s", details.Sale.Amount, details.Sale.Currency)
	}
	if details.Sale.StudentID == nil || *details.Sale.StudentID != submitted.StudentID {
		t.Fatalf("sale must reference the created student")
	}
	if len(details.Payments) != 1 || details.Payments[0].Amount != "150.00" || details.Payments[0].Status != string(enums.PaymentStatusPaid) {
		t.Fatalf("unexpected payments: %+v", details.Payments)
	}

	if details.Student == nil || details.Student.ID != submitted.StudentID {
		t.Fatalf("sale details must include the student: %+v", details.Student)
	}
	if len(details.Student.PhotoURLs) != 1 || details.Student.PhotoURLs[0] != "https://media.test/"+photo.Key {
		t.Fatalf("photos must be signed on read, got %v", details.Student.PhotoURLs)
	}

	student, err := env.store.Students().GetByID(context.Background(), submitted.StudentID)
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	if student.Phone != "+5511999990000" || student.Email != "ana@x.com" {
		t.Fatalf("unexpected student contact: %+v", student)
	}
	if len(student.PhotoKeys) != 1 || student.PhotoKeys[0] != photo.Key {
		t.Fatalf("student must keep the object key, got %v", student.PhotoKeys)
	}
}

func TestCheckoutProviderOutageReturnsBadGateway(t *testing.T) {
	env := newFlowEnv(t)
	env.provider.err = fmt.Errorf("%w: connection reset", checkoutsvc.ErrProviderTransient)

	rr := env.postJSON(t, "/v1/checkout/sessions", dto.CheckoutRequest{
		PlanID:         "p1",
		Email:          "ana@x.com",
		Name:           "Ana",
		Phone:          "+5511999990000",
		ProfessionalID: "pro1",
	})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestCheckoutRejectsUnknownPlan(t *testing.T) {
	env := newFlowEnv(t)

	rr := env.postJSON(t, "/v1/checkout/sessions", dto.CheckoutRequest{
		PlanID:         "missing",
		Email:          "ana@x.com",
		Name:           "Ana",
		Phone:          "+5511999990000",
		ProfessionalID: "pro1",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNotFound)
	}
	if env.store.CountSales() != 0 {
		t.Fatalf("unknown plan must not open a sale")
	}
}

func TestCheckoutRejectsUnknownFields(t *testing.T) {
	env := newFlowEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/checkout/sessions", []byte(`{"planId":"p1","amount":1}`), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newFlowEnv(t)

	header := http.Header{}
	header.Set("Stripe-Signature", "t=1,v1=forged")
	rr := env.do(t, http.MethodPost, "/v1/payments/webhook", []byte(`{"id":"evt_x"}`), header)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
	var apiErr map[string]string
	decodeBody(t, rr, &apiErr)
	if apiErr["code"] != "INVALID_SIGNATURE" {
		t.Fatalf("unexpected error code: %v", apiErr)
	}
	if env.store.CountPayments() != 0 {
		t.Fatalf("rejected webhook must not write")
	}
}

func TestGetFormUnknownTokenIsNotFound(t *testing.T) {
	env := newFlowEnv(t)

	rr := env.do(t, http.MethodGet, "/v1/anamnese/forms/nope", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNotFound)
	}
}

func TestIssueFormBeforePaymentConflicts(t *testing.T) {
	env := newFlowEnv(t)

	rr := env.postJSON(t, "/v1/checkout/sessions", dto.CheckoutRequest{
		PlanID:         "p1",
		Email:          "ana@x.com",
		Name:           "Ana",
		Phone:          "+5511999990000",
		ProfessionalID: "pro1",
	})
	var checkout dto.CheckoutResponse
	decodeBody(t, rr, &checkout)

	rr = env.do(t, http.MethodPost, "/v1/sales/"+checkout.SaleID+"/anamnese", nil, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusConflict)
	}
}

func TestSalesRequireIdentity(t *testing.T) {
	handler := NewSalesHandler(nil, nil, nil)

	rr := httptest.NewRecorder()
	handler.List(rr, httptest.NewRequest(http.MethodGet, "/v1/sales", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestSalesListRejectsUnknownStatus(t *testing.T) {
	env := newFlowEnv(t)

	rr := env.do(t, http.MethodGet, "/v1/sales?status=shipped", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}
