package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const maxReferralCodeLength = 64

// GuestCookies signs the guest id and referral code cookies.
type GuestCookies struct {
	codec          *securecookie.SecureCookie
	guestName      string
	referralName   string
	secure         bool
	maxAge         time.Duration
	referralMaxAge time.Duration
	newID          func() string
}

// NewGuestCookies builds the cookie codec. An empty hash key generates an ephemeral one, so cookies
// stop validating after a restart; production deployments must configure API_COOKIE_HASH_KEY.
func NewGuestCookies(cfg config.CookieConfig) (*GuestCookies, error) {
	hashKey := []byte(cfg.HashKey)
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(64)
		if hashKey == nil {
			return nil, errors.New("auth: generate cookie hash key")
		}
	}
	var blockKey []byte
	if cfg.BlockKey != "" {
		blockKey = []byte(cfg.BlockKey)
		switch len(blockKey) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("auth: cookie block key must be 16, 24 or 32 bytes, got %d", len(blockKey))
		}
	}

	referralMaxAge := cfg.ReferralMaxAge
	if referralMaxAge <= 0 {
		referralMaxAge = cfg.MaxAge
	}
	codec := securecookie.New(hashKey, blockKey)
	if longest := max(cfg.MaxAge, referralMaxAge); longest > 0 {
		codec.MaxAge(int(longest / time.Second))
	}
	return &GuestCookies{
		codec:          codec,
		guestName:      cfg.GuestName,
		referralName:   cfg.ReferralName,
		secure:         cfg.Secure,
		maxAge:         cfg.MaxAge,
		referralMaxAge: referralMaxAge,
		newID:          uuid.NewString,
	}, nil
}

// ResolveOwner attaches the request owner. Signed-in requests keep the Firebase uid set by
// Authenticate; anonymous requests use the guest cookie, minting and setting a new id when it is
// missing or fails verification.
func (c *GuestCookies) ResolveOwner() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := IdentityFromContext(ctx); ok {
				next.ServeHTTP(w, r)
				return
			}

			guestID, ok := c.decode(r, c.guestName)
			if !ok {
				guestID = c.newID()
				if err := c.set(w, c.guestName, guestID, c.maxAge); err != nil {
					requestctx.Logger(ctx).Error("guest cookie encode failed", zap.Error(err))
				}
			}

			ctx = requestctx.WithOwner(ctx, requestctx.Owner{GuestID: guestID})
			if logger, ok := requestctx.LoggerFrom(ctx); ok {
				ctx = requestctx.WithLogger(ctx, logger.With(zap.String("guest_id", guestID)))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReferralCode returns the verified referral code or "".
func (c *GuestCookies) ReferralCode(r *http.Request) string {
	code, _ := c.decode(r, c.referralName)
	return code
}

// SetReferral stores code in the signed referral cookie.
func (c *GuestCookies) SetReferral(w http.ResponseWriter, code string) error {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > maxReferralCodeLength {
		return fmt.Errorf("auth: referral code must be 1-%d characters", maxReferralCodeLength)
	}
	return c.set(w, c.referralName, code, c.referralMaxAge)
}

func (c *GuestCookies) decode(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	var value string
	if err := c.codec.Decode(name, cookie.Value, &value); err != nil || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

func (c *GuestCookies) set(w http.ResponseWriter, name, value string, maxAge time.Duration) error {
	encoded, err := c.codec.Encode(name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
