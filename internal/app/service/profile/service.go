package profile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quizforge/billing/internal/models"
	"github.com/quizforge/billing/pkg/logctx"
	"github.com/quizforge/billing/pkg/tool"
	"github.com/quizforge/billing/pkg/types"
)

// Store is the local `{customerRef, subscriptionRef, planId}` association per
// user. The billing provider stays authoritative; this store holds the
// synchronized local view.
type Store interface {
	GetByUserID(ctx context.Context, userID string) (*models.BillingProfile, error)
	GetByCustomerRef(ctx context.Context, customerRef string) (*models.BillingProfile, error)
	// SetSubscription persists the provider subscription reference and the
	// resolved plan for a user. Passing a nil ref clears the subscription.
	SetSubscription(ctx context.Context, userID string, subscriptionRef *string, plan types.PlanID) error
}

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (*models.BillingProfile, error) {
	var p models.BillingProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing profile: %w", err)
	}
	return &p, nil
}

func (s *Service) GetByCustomerRef(ctx context.Context, customerRef string) (*models.BillingProfile, error) {
	if customerRef == "" {
		return nil, nil
	}
	var p models.BillingProfile
	err := s.db.WithContext(ctx).Where("customer_ref = ?", customerRef).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing profile by customer: %w", err)
	}
	return &p, nil
}

func (s *Service) SetSubscription(ctx context.Context, userID string, subscriptionRef *string, plan types.PlanID) error {
	var p models.BillingProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load billing profile: %w", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p = models.BillingProfile{ID: tool.GenerateUUIDV7(), UserID: userID}
	}

	before := p.PlanID
	p.SubscriptionRef = subscriptionRef
	p.PlanID = plan

	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return fmt.Errorf("failed to save billing profile: %w", err)
	}

	if before != plan {
		logctx.FromCtx(ctx, s.log).Infow("billing plan changed",
			"user_id", userID, "from", before, "to", plan)
	}
	return nil
}
