package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccountService provisions client accounts idempotently
type AccountService struct {
	orgs     *repository.OrganizationRepository
	prefixes []string
	logger   *zap.Logger
}

func NewAccountService(orgs *repository.OrganizationRepository, dealNamePrefixes []string, logger *zap.Logger) *AccountService {
	return &AccountService{orgs: orgs, prefixes: dealNamePrefixes, logger: logger}
}

// WithTx returns an account service writing inside tx
func (s *AccountService) WithTx(tx *gorm.DB) *AccountService {
	return &AccountService{orgs: s.orgs.WithTx(tx), prefixes: s.prefixes, logger: s.logger}
}

// AccountSource carries the data an account is provisioned from
type AccountSource struct {
	// LinkedAccountID short-circuits provisioning when the source already has an account
	LinkedAccountID *uuid.UUID
	SourceType      domain.AccountSourceType
	SourceID        uuid.UUID
	Name            string
	ContactEmail    string
	ContactPhone    string
	CustomerType    string
}

// EnsureOptions selects the lifecycle the account should be in afterwards
type EnsureOptions struct {
	// Activate moves the account to onboarding with an active subscription
	Activate bool
}

// EnsureResult describes what EnsureAccount did
type EnsureResult struct {
	Account *domain.Organization
	Created bool
	Updated bool
}

// EnsureAccount returns the account for a source, creating it on first call.
// Lookup order: linked account id, then the (source type, source id) key.
func (s *AccountService) EnsureAccount(ctx context.Context, src AccountSource, opts EnsureOptions) (*EnsureResult, error) {
	var (
		org *domain.Organization
		err error
	)

	if src.LinkedAccountID != nil {
		org, err = s.orgs.GetByID(ctx, *src.LinkedAccountID)
		if err != nil {
			return nil, classify("load linked account", "account", src.LinkedAccountID.String(), err)
		}
	} else {
		org, err = s.orgs.GetBySource(ctx, src.SourceType, src.SourceID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to look up account for %s %s: %w", src.SourceType, src.SourceID, err)
		}
	}

	if org != nil {
		updated, err := s.applyOptions(ctx, org, opts)
		if err != nil {
			return nil, err
		}
		return &EnsureResult{Account: org, Updated: updated}, nil
	}

	name := StripDealPrefix(src.Name, s.prefixes)
	if name == "" {
		return nil, NewValidationError("name", "account name is empty after removing the deal prefix")
	}

	sourceID := src.SourceID
	org = &domain.Organization{
		Name:               name,
		ContactEmail:       src.ContactEmail,
		ContactPhone:       src.ContactPhone,
		CustomerType:       src.CustomerType,
		LifecycleStage:     domain.LifecycleProspect,
		SubscriptionStatus: domain.SubscriptionNone,
		IsActive:           false,
		SourceType:         src.SourceType,
		SourceID:           &sourceID,
	}
	if opts.Activate {
		activate(org)
	}

	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create account %q: %w", name, err)
	}

	s.logger.Info("Account provisioned",
		zap.String("account_id", org.ID.String()),
		zap.String("source_type", string(src.SourceType)),
		zap.String("source_id", src.SourceID.String()),
		zap.Bool("active", org.IsActive),
	)
	return &EnsureResult{Account: org, Created: true}, nil
}

func (s *AccountService) applyOptions(ctx context.Context, org *domain.Organization, opts EnsureOptions) (bool, error) {
	if !opts.Activate || isActivated(org) {
		return false, nil
	}
	activate(org)
	if err := s.orgs.Update(ctx, org); err != nil {
		return false, fmt.Errorf("failed to activate account %s: %w", org.ID, err)
	}
	return true, nil
}

func activate(org *domain.Organization) {
	org.LifecycleStage = domain.LifecycleOnboarding
	org.SubscriptionStatus = domain.SubscriptionActive
	org.IsActive = true
}

func isActivated(org *domain.Organization) bool {
	return org.IsActive &&
		org.SubscriptionStatus == domain.SubscriptionActive &&
		(org.LifecycleStage == domain.LifecycleOnboarding || org.LifecycleStage == domain.LifecycleActive)
}

// GetByID returns an account
func (s *AccountService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	org, err := s.orgs.GetByID(ctx, id)
	if err != nil {
		return nil, classify("load account", "account", id.String(), err)
	}
	return org, nil
}

// StripDealPrefix removes a lead-generation naming prefix such as "فرصة - "
func StripDealPrefix(name string, prefixes []string) string {
	trimmed := strings.TrimSpace(name)
	for _, prefix := range prefixes {
		p := strings.TrimSpace(prefix)
		if p == "" {
			continue
		}
		if strings.HasPrefix(trimmed, p) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, p))
		}
	}
	return trimmed
}
