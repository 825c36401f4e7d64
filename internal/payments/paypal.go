package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hanko-field/orders/internal/domain"
)

const (
	paypalTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	paypalTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	paypalCertURL          = "PAYPAL-CERT-URL"
	paypalAuthAlgo         = "PAYPAL-AUTH-ALGO"
	paypalTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"

	paypalVerifyPath = "/v1/notifications/verify-webhook-signature"
	paypalTokenPath  = "/v1/oauth2/token"

	paypalVerificationSuccess = "SUCCESS"
	paypalCheckoutOrderPrefix = "CHECKOUT.ORDER."
	paypalOrderLinkSegment    = "/v2/checkout/orders/"

	defaultPayPalTimeout = 10 * time.Second
	maxVerifyResponse    = 1 << 16
)

var paypalEvents = map[string]mapping{
	"PAYMENT.CAPTURE.COMPLETED": toPaid,
	"PAYMENT.CAPTURE.DENIED":    toCancelled,
	"PAYMENT.CAPTURE.DECLINED":  toCancelled,
	"CHECKOUT.ORDER.VOIDED":     toCancelled,
	"PAYMENT.CAPTURE.REFUNDED":  toRefunded,
	"PAYMENT.CAPTURE.PENDING":   toPending,
	"CHECKOUT.ORDER.APPROVED":   toPending,
}

// PayPalConfig configures the PayPal webhook strategy.
type PayPalConfig struct {
	ClientID  string
	Secret    string
	WebhookID string
	// BaseURL is the REST API root, e.g. https://api-m.paypal.com.
	BaseURL string
	Timeout time.Duration
	// HTTPClient is the transport used for token and verification calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// PayPalStrategy verifies deliveries through PayPal's verify-webhook-signature API using an OAuth2
// client-credentials token.
type PayPalStrategy struct {
	client    *http.Client
	verifyURL string
	webhookID string
	timeout   time.Duration
}

var _ Strategy = (*PayPalStrategy)(nil)

// NewPayPalStrategy constructs the PayPal strategy.
func NewPayPalStrategy(cfg PayPalConfig) (*PayPalStrategy, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.Secret)
	webhookID := strings.TrimSpace(cfg.WebhookID)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	if webhookID == "" {
		return nil, errors.New("paypal: webhook id is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("paypal: invalid base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPayPalTimeout
	}

	tokenCtx := context.Background()
	if cfg.HTTPClient != nil {
		tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	credentials := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     base + paypalTokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	return &PayPalStrategy{
		client:    credentials.Client(tokenCtx),
		verifyURL: base + paypalVerifyPath,
		webhookID: webhookID,
		timeout:   timeout,
	}, nil
}

func (p *PayPalStrategy) Provider() domain.PaymentProvider {
	return domain.PaymentProviderPayPal
}

type paypalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type paypalVerifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

func (p *PayPalStrategy) Verify(ctx context.Context, delivery Delivery) error {
	if err := requireHeaders(delivery, paypalTransmissionID, paypalTransmissionTime, paypalCertURL, paypalAuthAlgo, paypalTransmissionSig); err != nil {
		return err
	}
	if !json.Valid(delivery.Body) {
		return fmt.Errorf("%w: body is not json", ErrInvalidPayload)
	}

	payload, err := json.Marshal(paypalVerifyRequest{
		AuthAlgo:         delivery.Header(paypalAuthAlgo),
		CertURL:          delivery.Header(paypalCertURL),
		TransmissionID:   delivery.Header(paypalTransmissionID),
		TransmissionSig:  delivery.Header(paypalTransmissionSig),
		TransmissionTime: delivery.Header(paypalTransmissionTime),
		WebhookID:        p.webhookID,
		WebhookEvent:     json.RawMessage(delivery.Body),
	})
	if err != nil {
		return fmt.Errorf("paypal: encode verification request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("paypal: build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyResponse))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrVerificationUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: verification rejected the request", ErrInvalidSignature)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: verification returned status %d", ErrVerificationUnavailable, resp.StatusCode)
	}

	var result paypalVerifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrVerificationUnavailable, err)
	}
	if !strings.EqualFold(result.VerificationStatus, paypalVerificationSuccess) {
		return fmt.Errorf("%w: verification status %q", ErrInvalidSignature, result.VerificationStatus)
	}
	return nil
}

type paypalEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Resource  paypalResource `json:"resource"`
}

type paypalResource struct {
	ID                string `json:"id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (p *PayPalStrategy) MapEvent(delivery Delivery) (Event, error) {
	var evt paypalEvent
	if err := json.Unmarshal(delivery.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(evt.ID) == "" {
		return Event{}, fmt.Errorf("%w: event id is missing", ErrInvalidPayload)
	}

	eventType := strings.ToUpper(strings.TrimSpace(evt.EventType))
	out := Event{ID: evt.ID, Type: eventType}
	m, ok := paypalEvents[eventType]
	if !ok {
		return out, nil
	}
	out.PaymentRef = paypalOrderRef(eventType, evt.Resource)
	out.Target = m.target
	out.Notification = m.notification
	return out, nil
}

// paypalOrderRef resolves the PayPal order id. Checkout order events carry it as the resource id;
// capture and refund events reference it through related_ids or the "up" link.
func paypalOrderRef(eventType string, resource paypalResource) string {
	if strings.HasPrefix(eventType, paypalCheckoutOrderPrefix) {
		return strings.TrimSpace(resource.ID)
	}
	if id := strings.TrimSpace(resource.SupplementaryData.RelatedIDs.OrderID); id != "" {
		return id
	}
	for _, link := range resource.Links {
		if !strings.EqualFold(link.Rel, "up") {
			continue
		}
		if id := orderIDFromLink(link.Href); id != "" {
			return id
		}
	}
	return ""
}

func orderIDFromLink(href string) string {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	_, rest, found := strings.Cut(parsed.Path, paypalOrderLinkSegment)
	if !found {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return strings.TrimSpace(id)
}
