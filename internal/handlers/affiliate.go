package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

const maxClickBodySize = 4 * 1024

type recordClickRequest struct {
	Code       string `json:"code"`
	LandingURL string `json:"landingUrl,omitempty"`
}

type clickPayload struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	ClickedAt string `json:"clickedAt"`
}

// AffiliateHandlers records referral visits and pins the referral code to the visitor.
type AffiliateHandlers struct {
	affiliates services.AffiliateService
	cookies    *auth.GuestCookies
}

// NewAffiliateHandlers constructs the affiliate handlers.
func NewAffiliateHandlers(affiliates services.AffiliateService, cookies *auth.GuestCookies) *AffiliateHandlers {
	return &AffiliateHandlers{affiliates: affiliates, cookies: cookies}
}

// Routes registers the /affiliate endpoints.
func (h *AffiliateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/clicks", h.recordClick)
}

func (h *AffiliateHandlers) recordClick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.affiliates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("affiliate_service_unavailable", "affiliate service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req recordClickRequest
	if err := httpx.DecodeJSON(r, &req, maxClickBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	owner, _ := requestctx.OwnerFrom(ctx)
	click, err := h.affiliates.RecordClick(ctx, services.RecordClickCommand{
		Code:       strings.TrimSpace(req.Code),
		UserID:     owner.UserID,
		GuestID:    owner.GuestID,
		LandingURL: req.LandingURL,
	})
	if err != nil {
		writeAffiliateError(ctx, w, err)
		return
	}

	if h.cookies != nil {
		if err := h.cookies.SetReferral(w, click.Code); err != nil {
			// The click is stored; attribution falls back to no referral for this visitor.
			requestctx.Logger(ctx).Warn("referral cookie not set", zap.Error(err))
		}
	}

	httpx.WriteJSON(w, http.StatusCreated, clickPayload{
		ID:        click.ID,
		Code:      click.Code,
		ClickedAt: formatTime(click.ClickedAt),
	})
}
