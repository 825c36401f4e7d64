package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	affiliateClickIDPrefix      = "afk_"
	affiliateConversionIDPrefix = "afc_"

	maxLandingURLLength = 2048
)

var affiliateCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var conversionTransitions = map[domain.AffiliateConversionStatus]domain.AffiliateConversionStatus{
	domain.AffiliateConversionPending:  domain.AffiliateConversionApproved,
	domain.AffiliateConversionApproved: domain.AffiliateConversionPaid,
}

// AffiliateServiceDeps bundles collaborators required to construct the affiliate service.
type AffiliateServiceDeps struct {
	Repository repositories.AffiliateRepository
	// CommissionPercent is the configured commission rate, clamped to [0, 100] when applied.
	CommissionPercent float64
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type affiliateService struct {
	repo       repositories.AffiliateRepository
	commission float64
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ AffiliateService = (*affiliateService)(nil)

// NewAffiliateService constructs the attribution engine.
func NewAffiliateService(deps AffiliateServiceDeps) (AffiliateService, error) {
	if deps.Repository == nil {
		return nil, errors.New("affiliate service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &affiliateService{
		repo:       deps.Repository,
		commission: deps.CommissionPercent,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CommissionCents returns round(subtotal * clamp(percent, 0, 100) / 100), rounding half away from zero.
func CommissionCents(subtotalCents int64, percent float64) int64 {
	if subtotalCents <= 0 || percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	return decimal.NewFromInt(subtotalCents).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

func (s *affiliateService) Attribute(ctx context.Context, code string, subtotalCents int64) (*Attribution, error) {
	code = strings.TrimSpace(code)
	if !affiliateCodePattern.MatchString(code) {
		return nil, nil
	}

	clicks, err := s.repo.ListClicksByCode(ctx, code, 1)
	if err != nil {
		return nil, mapAffiliateRepositoryError(err)
	}
	if len(clicks) == 0 {
		return nil, nil
	}

	return &Attribution{
		Code:            code,
		ClickID:         clicks[0].ID,
		CommissionCents: CommissionCents(subtotalCents, s.commission),
		AttributedAt:    s.clock(),
	}, nil
}

func (s *affiliateService) RecordConversion(ctx context.Context, order Order) (AffiliateConversion, error) {
	if order.Affiliate == nil {
		return AffiliateConversion{}, fmt.Errorf("%w: order %s has no affiliate attribution", ErrAffiliateInvalidInput, order.ID)
	}

	now := s.clock()
	conversion := AffiliateConversion{
		ID:              affiliateConversionIDPrefix + s.newID(),
		ClickID:         order.Affiliate.ClickID,
		OrderID:         order.ID,
		UserID:          order.UserID,
		Code:            order.Affiliate.Code,
		CommissionCents: order.Affiliate.CommissionCents,
		Status:          domain.AffiliateConversionPending,
		CreatedAt:       now,
	}
	if err := s.repo.CreateConversion(ctx, conversion); err != nil {
		return AffiliateConversion{}, mapAffiliateRepositoryError(err)
	}

	if conversion.ClickID != "" {
		if err := s.repo.MarkClickConverted(ctx, conversion.ClickID, order.ID, now); err != nil {
			s.logger(ctx, "affiliate.click.mark_converted_failed", map[string]any{
				"clickId": conversion.ClickID,
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	return conversion, nil
}

func (s *affiliateService) RecordClick(ctx context.Context, cmd RecordClickCommand) (AffiliateClick, error) {
	code := strings.TrimSpace(cmd.Code)
	if !affiliateCodePattern.MatchString(code) {
		return AffiliateClick{}, fmt.Errorf("%w: referral code is malformed", ErrAffiliateInvalidInput)
	}
	landing := strings.TrimSpace(cmd.LandingURL)
	if landing != "" {
		if len(landing) > maxLandingURLLength {
			return AffiliateClick{}, fmt.Errorf("%w: landing url is too long", ErrAffiliateInvalidInput)
		}
		if parsed, err := url.Parse(landing); err != nil || (parsed.Scheme != "" && parsed.Scheme != "https" && parsed.Scheme != "http") {
			return AffiliateClick{}, fmt.Errorf("%w: landing url is invalid", ErrAffiliateInvalidInput)
		}
	}

	click := AffiliateClick{
		ID:         affiliateClickIDPrefix + s.newID(),
		Code:       code,
		UserID:     strings.TrimSpace(cmd.UserID),
		GuestID:    strings.TrimSpace(cmd.GuestID),
		LandingURL: landing,
		ClickedAt:  s.clock(),
	}
	if err := s.repo.InsertClick(ctx, click); err != nil {
		return AffiliateClick{}, mapAffiliateRepositoryError(err)
	}
	return click, nil
}

func (s *affiliateService) UpdateConversionStatus(ctx context.Context, cmd UpdateConversionStatusCommand) (AffiliateConversion, error) {
	id := strings.TrimSpace(cmd.ConversionID)
	if id == "" {
		return AffiliateConversion{}, fmt.Errorf("%w: conversion id is required", ErrAffiliateInvalidInput)
	}
	switch cmd.Status {
	case domain.AffiliateConversionPending, domain.AffiliateConversionApproved, domain.AffiliateConversionPaid:
	default:
		return AffiliateConversion{}, fmt.Errorf("%w: unknown status %q", ErrAffiliateInvalidInput, cmd.Status)
	}

	conversion, err := s.repo.FindConversion(ctx, id)
	if err != nil {
		return AffiliateConversion{}, mapAffiliateRepositoryError(err)
	}
	if conversion.Status == cmd.Status {
		return conversion, nil
	}
	if conversionTransitions[conversion.Status] != cmd.Status {
		return AffiliateConversion{}, fmt.Errorf("%w: %s -> %s", ErrAffiliateInvalidState, conversion.Status, cmd.Status)
	}

	previous := conversion.Status
	conversion.Status = cmd.Status
	if cmd.Status == domain.AffiliateConversionPaid {
		paidAt := s.clock()
		conversion.PaidAt = &paidAt
	}
	if err := s.repo.UpdateConversionStatus(ctx, conversion, previous); err != nil {
		return AffiliateConversion{}, mapAffiliateRepositoryError(err)
	}

	s.logger(ctx, "affiliate.conversion.status_changed", map[string]any{
		"conversionId": conversion.ID,
		"from":         string(previous),
		"to":           string(conversion.Status),
		"actorId":      strings.TrimSpace(cmd.ActorID),
	})
	return conversion, nil
}
