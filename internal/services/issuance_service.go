// internal/services/issuance_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/config"
	"github.com/localdeals/voucher-core/internal/database"
	"github.com/localdeals/voucher-core/internal/metrics"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

type IssueVoucherRequest struct {
	ExternalRef string `json:"external_ref" validate:"required,external_ref"`
	DealID      string `json:"deal_id" validate:"required,uuid"`
	AccountID   string `json:"account_id,omitempty" validate:"omitempty,uuid"`
}

// IssueResult carries the voucher and whether it already existed.
type IssueResult struct {
	Voucher  *models.Voucher
	Replayed bool
}

type IssuanceService struct {
	db       *gorm.DB
	gate     *GateService
	audit    *AuditService
	payments PaymentVerifier
	metrics  *metrics.VoucherMetrics
	bounds   database.TxBounds
	policy   config.VoucherConfig
	now      func() time.Time
}

func NewIssuanceService(
	db *gorm.DB,
	gate *GateService,
	audit *AuditService,
	payments PaymentVerifier,
	m *metrics.VoucherMetrics,
	bounds database.TxBounds,
	policy config.VoucherConfig,
) *IssuanceService {
	return &IssuanceService{
		db:       db,
		gate:     gate,
		audit:    audit,
		payments: payments,
		metrics:  m,
		bounds:   bounds,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates the validation and voucher pair for req.ExternalRef, or
// returns the pair that already exists for it.
func (s *IssuanceService) Issue(ctx context.Context, vendor *VendorContext, req *IssueVoucherRequest) (*IssueResult, error) {
	result, err := s.issue(ctx, vendor, req)
	if err != nil {
		s.metrics.IssuanceOutcome(errorCode(err))
		return nil, err
	}
	if result.Replayed {
		s.metrics.IssuanceOutcome(metrics.OutcomeReplayed)
	} else {
		s.metrics.IssuanceOutcome(metrics.OutcomeIssued)
	}
	return result, nil
}

func (s *IssuanceService) issue(ctx context.Context, vendor *VendorContext, req *IssueVoucherRequest) (*IssueResult, error) {
	if vendor == nil {
		return nil, ErrUnauthenticated
	}
	if err := Authorize(&vendor.IdentityContext, models.RoleVendor); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	dealID := uuid.MustParse(req.DealID)

	// Retries after a lost response land here, even once the deal or the
	// business has since been deactivated.
	if existing, err := s.findByExternalRef(ctx, req.ExternalRef); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replay(ctx, vendor, existing, dealID)
	}

	// Gate 1: the caller's business and its allowance.
	business, err := s.gate.RequireActiveBusiness(ctx, vendor.BusinessID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.RequireActiveSubscription(business); err != nil {
		return nil, err
	}

	// Gate 2: the deal, owned and active.
	deal, err := s.gate.RequireActiveDeal(ctx, dealID, business.ID)
	if err != nil {
		return nil, err
	}

	var accountID *uuid.UUID
	if req.AccountID != "" {
		id := uuid.MustParse(req.AccountID)
		accountID = &id
	}

	if s.payments != nil {
		if err := s.payments.VerifyPayment(ctx, req.ExternalRef, deal.DealPrice); err != nil {
			return nil, err
		}
	}

	voucher, err := s.create(ctx, vendor, deal, req.ExternalRef, accountID)
	if err == nil {
		return &IssueResult{Voucher: voucher}, nil
	}

	switch classifyDBError(err) {
	case dbErrUnique, dbErrConflict:
		// Lost the race for this externalRef; the winner's pair is the answer.
		existing, findErr := s.findByExternalRef(ctx, req.ExternalRef)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return s.replay(ctx, vendor, existing, deal.ID)
		}
		return nil, ErrSerializationConflict.Wrap(err)
	case dbErrForeignKey:
		return nil, ErrForeignKeyViolation.Wrap(err)
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Code != CodeInternal {
		return nil, serviceErr
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"stage":        "issue_tx",
		"external_ref": req.ExternalRef,
		"deal_id":      deal.ID.String(),
	}).Error("Voucher issuance failed")
	return nil, ErrInternal.Wrap(err)
}

// create runs the two-row insert. Nothing persists unless every step succeeds.
func (s *IssuanceService) create(ctx context.Context, vendor *VendorContext, deal *models.Deal, externalRef string, accountID *uuid.UUID) (*models.Voucher, error) {
	var voucher *models.Voucher
	started := time.Now()
	defer s.metrics.ObserveTx(metrics.OperationIssue, started)

	err := database.WithSerializableTransaction(ctx, s.db, s.bounds, func(tx *gorm.DB) error {
		// The deal may have been deactivated since the pre-check.
		if _, err := s.gate.In(tx).RequireActiveDeal(ctx, deal.ID, deal.BusinessID); err != nil {
			return err
		}

		validation := &models.VoucherValidation{
			BusinessID:  deal.BusinessID,
			DealID:      deal.ID,
			ExternalRef: externalRef,
		}
		if err := tx.Create(validation).Error; err != nil {
			return err
		}

		issuedAt := s.now()
		token, err := utils.GenerateQRToken(issuedAt)
		if err != nil {
			return err
		}
		expiresAt := issuedAt.Add(s.voucherTTL(deal))

		voucher = &models.Voucher{
			ValidationID: validation.ID,
			DealID:       deal.ID,
			BusinessID:   deal.BusinessID,
			AccountID:    accountID,
			QRToken:      token,
			Status:       models.VoucherStatusIssued,
			IssuedAt:     issuedAt,
			ExpiresAt:    &expiresAt,
		}
		if err := tx.Create(voucher).Error; err != nil {
			return err
		}

		return s.audit.Append(tx, AuditEntry{
			VoucherID: &voucher.ID,
			ActorID:   &vendor.UserID,
			ActorRole: vendor.Role,
			Action:    models.AuditActionIssued,
			Metadata: map[string]interface{}{
				"external_ref":  externalRef,
				"validation_id": validation.ID.String(),
				"deal_id":       deal.ID.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return voucher, nil
}

// voucherTTL applies the deal's TTL or the default, always capped at the
// platform maximum. There is no open-ended voucher.
func (s *IssuanceService) voucherTTL(deal *models.Deal) time.Duration {
	hours := s.policy.DefaultTTLHours
	if deal.VoucherTTLHours > 0 {
		hours = deal.VoucherTTLHours
	}
	if hours > s.policy.MaxTTLHours {
		hours = s.policy.MaxTTLHours
	}
	return time.Duration(hours) * time.Hour
}

func (s *IssuanceService) findByExternalRef(ctx context.Context, externalRef string) (*models.Voucher, error) {
	var validation models.VoucherValidation
	err := s.db.WithContext(ctx).First(&validation, "external_ref = ?", externalRef).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, ErrInternal.Wrap(err)
	}

	var voucher models.Voucher
	if err := s.db.WithContext(ctx).First(&voucher, "validation_id = ?", validation.ID).Error; err != nil {
		if isNotFound(err) {
			// A validation row is only ever committed together with its voucher.
			logrus.WithField("validation_id", validation.ID.String()).Error("Validation without voucher")
		}
		return nil, ErrInternal.Wrap(err)
	}

	return &voucher, nil
}

// replay answers a repeated externalRef with the existing voucher. A reference
// already bound to another deal or business is a conflict, reported without
// details of the other pair.
func (s *IssuanceService) replay(ctx context.Context, vendor *VendorContext, existing *models.Voucher, dealID uuid.UUID) (*IssueResult, error) {
	if existing.BusinessID != vendor.BusinessID || existing.DealID != dealID {
		return nil, ErrValidationAlreadyExists
	}

	s.audit.AppendBestEffort(ctx, AuditEntry{
		VoucherID: &existing.ID,
		ActorID:   &vendor.UserID,
		ActorRole: vendor.Role,
		Action:    models.AuditActionIssueReplayed,
	})

	return &IssueResult{Voucher: existing, Replayed: true}, nil
}

func errorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}
	return CodeInternal
}
