// internal/services/gate_service.go
package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/models"
)

// GateService performs the read-only business and deal state checks that
// precede issuance.
type GateService struct {
	db *gorm.DB
}

func NewGateService(db *gorm.DB) *GateService {
	return &GateService{db: db}
}

// In returns a gate that reads through tx.
func (s *GateService) In(tx *gorm.DB) *GateService {
	return &GateService{db: tx}
}

// RequireActiveBusiness fails with BUSINESS_NOT_ACTIVE for unknown businesses
// as well as inactive ones.
func (s *GateService) RequireActiveBusiness(ctx context.Context, businessID uuid.UUID) (*models.Business, error) {
	var business models.Business
	if err := s.db.WithContext(ctx).First(&business, "id = ?", businessID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrBusinessNotActive
		}
		return nil, ErrInternal.Wrap(err)
	}

	if business.Status != models.BusinessStatusActive {
		return nil, ErrBusinessNotActive
	}

	return &business, nil
}

// RequireActiveSubscription is the allowance gate in front of issuance.
func (s *GateService) RequireActiveSubscription(business *models.Business) error {
	if business.SubscriptionStatus != models.SubscriptionStatusActive {
		return ErrForbidden.WithMessage("business subscription is not active")
	}
	return nil
}

// RequireActiveDeal checks the deal belongs to businessID and is ACTIVE. A deal
// owned by another business is reported exactly like a missing one.
func (s *GateService) RequireActiveDeal(ctx context.Context, dealID, businessID uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := s.db.WithContext(ctx).
		Where("id = ? AND business_id = ?", dealID, businessID).
		First(&deal).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrDealNotFound
		}
		return nil, ErrInternal.Wrap(err)
	}

	if deal.Status != models.DealStatusActive {
		return nil, ErrDealNotActive
	}

	return &deal, nil
}
