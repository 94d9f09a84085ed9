package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	v1 "github.com/flexprice/creditsync/internal/api/v1"
	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/integration/stripe"
	"github.com/flexprice/creditsync/internal/integration/stripe/webhook"
	"github.com/flexprice/creditsync/internal/service"
	"github.com/flexprice/creditsync/internal/testutil"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

type WebhookAPISuite struct {
	testutil.BaseServiceTestSuite
	eventRouter *webhook.Router
	engine      *gin.Engine
}

func TestWebhookAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(WebhookAPISuite))
}

func (s *WebhookAPISuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	stores := s.GetStores()
	reconciler := service.NewReconcilerService(service.ServiceParams{
		Logger:              s.GetLogger(),
		Config:              s.GetConfig(),
		AccountRepo:         stores.AccountRepo,
		CheckoutSessionRepo: stores.CheckoutSessionRepo,
		CreditBalanceRepo:   stores.CreditBalanceRepo,
		Processor:           s.GetProcessor(),
		Locker:              s.GetLocker(),
		SentryService:       s.GetSentry(),
		Now:                 s.Now,
	})
	s.eventRouter = webhook.NewRouter(s.GetGuard(), reconciler, s.GetPublisher(), s.GetSentry(), s.GetLogger())

	verifier, err := stripe.NewVerifier(testutil.TestWebhookSecret, s.GetLogger())
	s.Require().NoError(err)
	s.engine = s.newEngine(verifier)
}

func (s *WebhookAPISuite) newEngine(verifier v1.EventVerifier) *gin.Engine {
	return NewRouter(Handlers{
		Health:  v1.NewHealthHandler(s.GetLogger()),
		Webhook: v1.NewWebhookHandler(s.GetConfig(), verifier, s.eventRouter, s.GetSentry(), s.GetLogger()),
	}, s.GetConfig(), s.GetLogger())
}

func (s *WebhookAPISuite) post(engine *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(types.HeaderStripeSignature, signature)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func (s *WebhookAPISuite) deliver(id, eventType string, object map[string]any) *httptest.ResponseRecorder {
	payload := testutil.NewStripeEventPayload(id, eventType, s.Now(), object)
	return s.post(s.engine, payload, testutil.SignStripePayload(payload, testutil.TestWebhookSecret))
}

func (s *WebhookAPISuite) checkoutObject() map[string]any {
	return map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"customer":       "cus_1",
		"customer_email": "grace@example.com",
		"metadata": map[string]any{
			"plan":    "starter",
			"billing": "monthly",
		},
	}
}

func (s *WebhookAPISuite) decode(w *httptest.ResponseRecorder) v1.WebhookResponse {
	var resp v1.WebhookResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *WebhookAPISuite) TestHealth() {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	s.Equal(http.StatusOK, w.Code)
	s.NotEmpty(w.Header().Get(types.HeaderRequestID))
}

func (s *WebhookAPISuite) TestHealthReportsFailingDependency() {
	engine := NewRouter(Handlers{
		Health: v1.NewHealthHandler(s.GetLogger(), v1.HealthCheck{
			Name: "postgres",
			Check: func(context.Context) error {
				return ierr.NewError("connection refused").Mark(ierr.ErrDatabase)
			},
		}),
		Webhook: v1.NewWebhookHandler(s.GetConfig(), nil, s.eventRouter, s.GetSentry(), s.GetLogger()),
	}, s.GetConfig(), s.GetLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Contains(w.Body.String(), "postgres")
}

func (s *WebhookAPISuite) TestWrongMethodIs405() {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/webhooks/stripe", nil)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		s.Equal(http.StatusMethodNotAllowed, w.Code, method)
	}
	s.Equal(0, s.GetStores().ProcessedEventRepo.Count())
}

func (s *WebhookAPISuite) TestMissingSecretIs500() {
	engine := s.newEngine(nil)
	payload := testutil.NewStripeEventPayload("evt_1", "checkout.session.completed", s.Now(), s.checkoutObject())

	w := s.post(engine, payload, testutil.SignStripePayload(payload, testutil.TestWebhookSecret))

	s.Equal(http.StatusInternalServerError, w.Code)
	s.Equal(0, s.GetStores().ProcessedEventRepo.Count())
	s.Empty(s.GetStores().AccountRepo.All())
}

func (s *WebhookAPISuite) TestTamperedBodyIs400() {
	payload := testutil.NewStripeEventPayload("evt_1", "checkout.session.completed", s.Now(), s.checkoutObject())
	signature := testutil.SignStripePayload(payload, testutil.TestWebhookSecret)
	tampered := bytes.Replace(payload, []byte("starter"), []byte("scale"), 1)

	w := s.post(s.engine, tampered, signature)

	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(0, s.GetStores().ProcessedEventRepo.Count())
	s.Empty(s.GetStores().AccountRepo.All())
	s.Empty(s.GetPublisher().Events())
}

func (s *WebhookAPISuite) TestWrongSecretIs400() {
	payload := testutil.NewStripeEventPayload("evt_1", "checkout.session.completed", s.Now(), s.checkoutObject())

	w := s.post(s.engine, payload, testutil.SignStripePayload(payload, "whsec_other"))

	s.Equal(http.StatusBadRequest, w.Code)
	s.Empty(s.GetStores().AccountRepo.All())
}

func (s *WebhookAPISuite) TestMissingSignatureIs400() {
	payload := testutil.NewStripeEventPayload("evt_1", "checkout.session.completed", s.Now(), s.checkoutObject())

	w := s.post(s.engine, payload, "")

	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(0, s.GetStores().ProcessedEventRepo.Count())
}

func (s *WebhookAPISuite) TestOversizedBodyIs400() {
	cfg := *s.GetConfig()
	cfg.Server.MaxBodyBytes = 64
	verifier, err := stripe.NewVerifier(testutil.TestWebhookSecret, s.GetLogger())
	s.Require().NoError(err)
	engine := NewRouter(Handlers{
		Health:  v1.NewHealthHandler(s.GetLogger()),
		Webhook: v1.NewWebhookHandler(&cfg, verifier, s.eventRouter, s.GetSentry(), s.GetLogger()),
	}, &cfg, s.GetLogger())

	payload := testutil.NewStripeEventPayload("evt_1", "checkout.session.completed", s.Now(), s.checkoutObject())
	w := s.post(engine, payload, testutil.SignStripePayload(payload, testutil.TestWebhookSecret))

	s.Equal(http.StatusBadRequest, w.Code)
	s.Empty(s.GetStores().AccountRepo.All())
}

func (s *WebhookAPISuite) TestAppliedThenDuplicateAre200() {
	w := s.deliver("evt_1", "checkout.session.completed", s.checkoutObject())
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	resp := s.decode(w)
	s.True(resp.Received)
	s.Equal(string(service.OutcomeApplied), resp.Status)

	w = s.deliver("evt_1", "checkout.session.completed", s.checkoutObject())
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(string(service.OutcomeDuplicate), s.decode(w).Status)

	accounts := s.GetStores().AccountRepo.All()
	s.Require().Len(accounts, 1)
	s.Equal("grace@example.com", accounts[0].Email)

	balance, err := s.GetStores().CreditBalanceRepo.Get(s.GetContext(), accounts[0].ID)
	s.Require().NoError(err)
	s.Equal(int64(200), balance.Credits)
}

func (s *WebhookAPISuite) TestUnknownTypeIs200() {
	w := s.deliver("evt_product", "product.created", map[string]any{"id": "prod_1", "object": "product"})

	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(string(service.OutcomeNotHandled), s.decode(w).Status)
	s.Equal(0, s.GetStores().ProcessedEventRepo.Count())
}

func (s *WebhookAPISuite) TestIgnoredIs200() {
	w := s.deliver("evt_paid", "invoice.paid", map[string]any{
		"id":     "in_1",
		"object": "invoice",
		"parent": map[string]any{
			"type":                 "subscription_details",
			"subscription_details": map[string]any{"subscription": "sub_unknown"},
		},
	})

	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(string(service.OutcomeIgnored), s.decode(w).Status)
}

func (s *WebhookAPISuite) TestHandlerFailureIs500AndRetried() {
	s.GetStores().AccountRepo.FailOn("Create", ierr.NewError("connection reset").Mark(ierr.ErrDatabase))

	w := s.deliver("evt_1", "checkout.session.completed", s.checkoutObject())
	s.Equal(http.StatusInternalServerError, w.Code)
	s.True(strings.Contains(w.Body.String(), `"success":false`))

	entry, err := s.GetStores().ProcessedEventRepo.Get(s.GetContext(), "evt_1")
	s.Require().NoError(err)
	s.Equal(types.ProcessingOutcomeFailed, entry.Outcome)

	s.GetStores().AccountRepo.FailOn("Create", nil)
	w = s.deliver("evt_1", "checkout.session.completed", s.checkoutObject())
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(string(service.OutcomeApplied), s.decode(w).Status)
}

func (s *WebhookAPISuite) TestSubscriptionDeletedCancelsAccount() {
	s.GetProcessor().AddSubscription(&processor.Subscription{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     types.SubscriptionStatusActive,
	})
	object := s.checkoutObject()
	object["subscription"] = "sub_1"
	s.Require().Equal(http.StatusOK, s.deliver("evt_1", "checkout.session.completed", object).Code)

	w := s.deliver("evt_2", "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_1",
		"status":   "canceled",
	})

	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(types.SubscriptionStatusCanceled, s.GetStores().AccountRepo.All()[0].SubscriptionStatus)
}
