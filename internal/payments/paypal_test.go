package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hanko-field/orders/internal/domain"
)

func paypalHeaders() http.Header {
	headers := http.Header{}
	headers.Set(paypalTransmissionID, "69cd13f0-d67a-11e5-baa3-778b53f4ae55")
	headers.Set(paypalTransmissionTime, "2025-05-01T09:30:00Z")
	headers.Set(paypalCertURL, "https://api.paypal.com/v1/notifications/certs/CERT-360caa42")
	headers.Set(paypalAuthAlgo, "SHA256withRSA")
	headers.Set(paypalTransmissionSig, "lmI95Jx3Y9nhR5SJWlHVIWpg4AgFk7n9bCHSRxbrd8A9zrhdu2rMyFrmz+Zjh3s3boXB07VXCXUZy/UFzUlnGJn0wDugt7FlSvdKeIJenLRemUxYCPVoEZzg9VFNqOa48gMkvF+XTpxBeUx/kWy6B5cp7GkT2+pOowfRK7OaynuxUoKW3JcMWw272VKjLTtTAShncla7tGF+55rxyt2KNZIIqxNMJ48RDZheGU5w1npu9dZHnPgTXB9iomeVRoD8O/jhRpnKsGrDschyNdkeh81BJJMH4Ctc6lnCCquoP/GzCzz33MMsNdid7vL/NIWaCsekQpW26FpWPi/tfj8nLA==")
	return headers
}

const paypalCaptureCompleted = `{
  "id": "WH-58D329510W468432D-8HN650336L201105X",
  "event_type": "PAYMENT.CAPTURE.COMPLETED",
  "resource": {
    "id": "42311647XV020574X",
    "status": "COMPLETED",
    "supplementary_data": {"related_ids": {"order_id": "5O190127TN364715T"}},
    "links": [{"href": "https://api.paypal.com/v2/checkout/orders/5O190127TN364715T", "rel": "up", "method": "GET"}]
  }
}`

type paypalServer struct {
	server       *httptest.Server
	tokenCalls   atomic.Int32
	verifyCalls  atomic.Int32
	status       string
	verifyStatus int
	lastRequest  paypalVerifyRequest
	lastAuth     string
}

func newPayPalServer(t *testing.T) *paypalServer {
	t.Helper()
	s := &paypalServer{status: "SUCCESS", verifyStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc(paypalTokenPath, func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21AAF","token_type":"Bearer","expires_in":32400}`))
	})
	mux.HandleFunc(paypalVerifyPath, func(w http.ResponseWriter, r *http.Request) {
		s.verifyCalls.Add(1)
		s.lastAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&s.lastRequest); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.verifyStatus != http.StatusOK {
			w.WriteHeader(s.verifyStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(paypalVerifyResponse{VerificationStatus: s.status})
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func newTestPayPalStrategy(t *testing.T, baseURL string) *PayPalStrategy {
	t.Helper()
	strategy, err := NewPayPalStrategy(PayPalConfig{
		ClientID:   "client-id",
		Secret:     "client-secret",
		WebhookID:  "WH-CONFIGURED",
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
	})
	if err != nil {
		t.Fatalf("new paypal strategy: %v", err)
	}
	return strategy
}

func TestPayPalVerifySuccess(t *testing.T) {
	srv := newPayPalServer(t)
	strategy := newTestPayPalStrategy(t, srv.server.URL)

	delivery := Delivery{Headers: paypalHeaders(), Body: []byte(paypalCaptureCompleted)}
	if err := strategy.Verify(context.Background(), delivery); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if srv.lastAuth != "Bearer A21AAF" {
		t.Fatalf("expected bearer token, got %q", srv.lastAuth)
	}
	if srv.lastRequest.WebhookID != "WH-CONFIGURED" || srv.lastRequest.AuthAlgo != "SHA256withRSA" {
		t.Fatalf("unexpected verification request %+v", srv.lastRequest)
	}
	var event struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(srv.lastRequest.WebhookEvent, &event); err != nil || event.ID != "WH-58D329510W468432D-8HN650336L201105X" {
		t.Fatalf("expected raw event to be forwarded, got %s", srv.lastRequest.WebhookEvent)
	}

	if err := strategy.Verify(context.Background(), delivery); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if got := srv.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected cached token, got %d token calls", got)
	}
}

func TestPayPalVerifyFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  string
		code    int
		headers func() http.Header
		want    error
	}{
		{name: "failure status", status: "FAILURE", code: http.StatusOK, headers: paypalHeaders, want: ErrInvalidSignature},
		{name: "bad request", code: http.StatusBadRequest, headers: paypalHeaders, want: ErrInvalidSignature},
		{name: "server error", code: http.StatusServiceUnavailable, headers: paypalHeaders, want: ErrVerificationUnavailable},
		{name: "missing header", code: http.StatusOK, headers: func() http.Header {
			h := paypalHeaders()
			h.Del(paypalTransmissionSig)
			return h
		}, want: ErrMissingSignature},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newPayPalServer(t)
			srv.status = tc.status
			srv.verifyStatus = tc.code
			strategy := newTestPayPalStrategy(t, srv.server.URL)

			err := strategy.Verify(context.Background(), Delivery{Headers: tc.headers(), Body: []byte(paypalCaptureCompleted)})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPayPalVerifyUnreachable(t *testing.T) {
	srv := newPayPalServer(t)
	url := srv.server.URL
	srv.server.Close()
	strategy := newTestPayPalStrategy(t, url)

	err := strategy.Verify(context.Background(), Delivery{Headers: paypalHeaders(), Body: []byte(paypalCaptureCompleted)})
	if !errors.Is(err, ErrVerificationUnavailable) {
		t.Fatalf("expected verification unavailable, got %v", err)
	}
}

func TestPayPalMapEvent(t *testing.T) {
	strategy := newTestPayPalStrategy(t, "https://api-m.sandbox.paypal.com")

	cases := []struct {
		name         string
		body         string
		ref          string
		target       domain.OrderStatus
		notification domain.NotificationKind
	}{
		{
			name:         "capture completed uses related ids",
			body:         paypalCaptureCompleted,
			ref:          "5O190127TN364715T",
			target:       domain.OrderStatusPaid,
			notification: domain.NotificationPaid,
		},
		{
			name:         "refund falls back to up link",
			body:         `{"id":"WH-2","event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"1JU08902781691411","links":[{"href":"https://api.paypal.com/v2/checkout/orders/8MC585209K746392H","rel":"up"}]}}`,
			ref:          "8MC585209K746392H",
			target:       domain.OrderStatusCancelled,
			notification: domain.NotificationRefunded,
		},
		{
			name:         "denied capture",
			body:         `{"id":"WH-3","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"supplementary_data":{"related_ids":{"order_id":"ORDER-3"}}}}`,
			ref:          "ORDER-3",
			target:       domain.OrderStatusCancelled,
			notification: domain.NotificationCancelled,
		},
		{
			name:   "approved checkout order uses resource id",
			body:   `{"id":"WH-4","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"ORDER-4"}}`,
			ref:    "ORDER-4",
			target: domain.OrderStatusPending,
		},
		{
			name: "unknown type is ignored",
			body: `{"id":"WH-5","event_type":"BILLING.SUBSCRIPTION.CREATED","resource":{"id":"I-1"}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := strategy.MapEvent(Delivery{Body: []byte(tc.body)})
			if err != nil {
				t.Fatalf("map event: %v", err)
			}
			if event.PaymentRef != tc.ref || event.Target != tc.target || event.Notification != tc.notification {
				t.Fatalf("unexpected event %+v", event)
			}
			if (tc.target == "") != event.Ignored() {
				t.Fatalf("unexpected ignored flag for %+v", event)
			}
		})
	}

	if _, err := strategy.MapEvent(Delivery{Body: []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`)}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload for missing id, got %v", err)
	}
}

func TestNewPayPalStrategyValidatesConfig(t *testing.T) {
	if _, err := NewPayPalStrategy(PayPalConfig{WebhookID: "WH", BaseURL: "https://api-m.paypal.com"}); err == nil {
		t.Fatal("expected credentials error")
	}
	if _, err := NewPayPalStrategy(PayPalConfig{ClientID: "id", Secret: "secret", BaseURL: "https://api-m.paypal.com"}); err == nil {
		t.Fatal("expected webhook id error")
	}
	if _, err := NewPayPalStrategy(PayPalConfig{ClientID: "id", Secret: "secret", WebhookID: "WH", BaseURL: "not a url"}); err == nil {
		t.Fatal("expected base url error")
	}
}
