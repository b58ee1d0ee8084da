// internal/services/redemption_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/database"
	"github.com/localdeals/voucher-core/internal/metrics"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

type RedeemVoucherRequest struct {
	VoucherID  string                 `json:"voucher_id,omitempty" validate:"omitempty,uuid"`
	QRToken    string                 `json:"qr_token,omitempty" validate:"omitempty,max=64"`
	LocationID string                 `json:"location_id,omitempty" validate:"omitempty,max=64"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type RedeemResult struct {
	VoucherID  uuid.UUID       `json:"voucher_id"`
	DealPrice  decimal.Decimal `json:"deal_price"`
	RedeemedAt time.Time       `json:"redeemed_at"`
}

// errRedeemRaced means the conditional status update matched no row.
var errRedeemRaced = errors.New("voucher status changed during redemption")

type RedemptionService struct {
	db      *gorm.DB
	audit   *AuditService
	metrics *metrics.VoucherMetrics
	bounds  database.TxBounds
	now     func() time.Time
}

func NewRedemptionService(db *gorm.DB, audit *AuditService, m *metrics.VoucherMetrics, bounds database.TxBounds) *RedemptionService {
	return &RedemptionService{
		db:      db,
		audit:   audit,
		metrics: m,
		bounds:  bounds,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Redeem performs the ISSUED -> REDEEMED transition. Every attempt, including
// failures, leaves a voucher audit entry.
func (s *RedemptionService) Redeem(ctx context.Context, session *VendorSessionContext, req *RedeemVoucherRequest) (*RedeemResult, error) {
	if session == nil {
		return nil, s.Reject(ctx, nil, req, ErrInvalidSession)
	}

	result, voucherID, err := s.redeem(ctx, session, req)
	if err != nil {
		s.metrics.RedemptionOutcome(errorCode(err))
		s.recordFailure(ctx, session, req, voucherID, err)
		return nil, err
	}

	s.metrics.RedemptionOutcome(metrics.OutcomeRedeemed)
	return result, nil
}

// Reject records a redemption attempt refused before it reached a voucher,
// such as one carrying an unusable session or an undecodable body, and
// returns cause. session and req may be nil.
func (s *RedemptionService) Reject(ctx context.Context, session *VendorSessionContext, req *RedeemVoucherRequest, cause error) error {
	s.metrics.RedemptionOutcome(errorCode(cause))
	s.recordFailure(ctx, session, req, nil, cause)
	return cause
}

func (s *RedemptionService) redeem(ctx context.Context, session *VendorSessionContext, req *RedeemVoucherRequest) (*RedeemResult, *uuid.UUID, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, nil, ErrValidation.Wrap(err)
	}
	if req.VoucherID == "" && req.QRToken == "" {
		return nil, nil, ErrValidation.WithMessage("voucher_id or qr_token is required")
	}

	var (
		result    *RedeemResult
		voucherID *uuid.UUID
	)

	started := time.Now()
	err := database.WithSerializableTransaction(ctx, s.db, s.bounds, func(tx *gorm.DB) error {
		// Read inside the transaction; a pre-transaction read could be stale.
		voucher, err := s.lookup(tx, req)
		if err != nil {
			return err
		}
		voucherID = &voucher.ID

		if !session.AuthorizedBusiness(voucher.BusinessID) {
			return ErrVendorNotOwner
		}

		var business models.Business
		if err := tx.Select("id", "status").First(&business, "id = ?", voucher.BusinessID).Error; err != nil {
			return err
		}
		if business.Status != models.BusinessStatusActive {
			return ErrBusinessNotActive
		}

		switch voucher.Status {
		case models.VoucherStatusIssued:
		case models.VoucherStatusRedeemed:
			return ErrVoucherAlreadyRedeemed
		default:
			return ErrVoucherNotIssued
		}

		now := s.now()
		if voucher.ExpiredAt(now) {
			return ErrVoucherExpired
		}

		if !session.AuthorizedLocation(req.LocationID) {
			return ErrLocationUnauthorized
		}

		var deal models.Deal
		if err := tx.First(&deal, "id = ?", voucher.DealID).Error; err != nil {
			return err
		}

		redeemedContext := datatypes.JSONMap{
			"session_id":     session.SessionID.String(),
			"vendor_user_id": session.VendorUserID.String(),
		}
		if req.LocationID != "" {
			redeemedContext["location_id"] = req.LocationID
		}
		if len(req.Metadata) > 0 {
			redeemedContext["metadata"] = req.Metadata
		}

		update := tx.Model(&models.Voucher{}).
			Where("id = ? AND status = ?", voucher.ID, models.VoucherStatusIssued).
			Updates(map[string]interface{}{
				"status":                  models.VoucherStatusRedeemed,
				"redeemed_at":             now,
				"redeemed_by_business_id": voucher.BusinessID,
				"redeemed_context":        redeemedContext,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected != 1 {
			return errRedeemRaced
		}

		redemption := &models.Redemption{
			VoucherID:     voucher.ID,
			DealID:        voucher.DealID,
			BusinessID:    voucher.BusinessID,
			VendorUserID:  session.VendorUserID,
			LocationID:    req.LocationID,
			RedeemedAt:    now,
			OriginalValue: deal.OriginalValue,
			DealPrice:     deal.DealPrice,
		}
		if err := tx.Create(redemption).Error; err != nil {
			return err
		}

		if err := s.audit.Append(tx, AuditEntry{
			VoucherID: &voucher.ID,
			ActorID:   &session.VendorUserID,
			ActorRole: models.RoleVendor,
			Action:    models.AuditActionRedeemed,
			Metadata: map[string]interface{}{
				"redemption_id": redemption.ID.String(),
				"session_id":    session.SessionID.String(),
				"location_id":   req.LocationID,
			},
		}); err != nil {
			return err
		}

		if err := tx.Model(&models.Deal{}).Where("id = ?", deal.ID).UpdateColumn("last_active_at", now).Error; err != nil {
			return err
		}

		result = &RedeemResult{VoucherID: voucher.ID, DealPrice: deal.DealPrice, RedeemedAt: now}
		return nil
	})
	s.metrics.ObserveTx(metrics.OperationRedeem, started)

	if err == nil {
		return result, voucherID, nil
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return nil, voucherID, serviceErr
	}

	if errors.Is(err, errRedeemRaced) || isRetryable(err) {
		// Resolve the loser by re-reading once. The whole operation is never retried.
		return nil, voucherID, s.resolveConflict(ctx, req, err)
	}

	fields := logrus.Fields{"stage": "redeem_tx", "session_id": session.SessionID.String()}
	if voucherID != nil {
		fields["voucher_id"] = voucherID.String()
	}
	logrus.WithError(err).WithFields(fields).Error("Voucher redemption failed")
	return nil, voucherID, ErrInternal.Wrap(err)
}

func (s *RedemptionService) lookup(tx *gorm.DB, req *RedeemVoucherRequest) (*models.Voucher, error) {
	var voucher models.Voucher
	query := tx
	if req.VoucherID != "" {
		query = query.Where("id = ?", req.VoucherID)
	}
	if req.QRToken != "" {
		query = query.Where("qr_token = ?", req.QRToken)
	}

	if err := query.First(&voucher).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &voucher, nil
}

func (s *RedemptionService) resolveConflict(ctx context.Context, req *RedeemVoucherRequest, cause error) error {
	voucher, err := s.lookup(s.db.WithContext(ctx), req)
	if err == nil && voucher.Status == models.VoucherStatusRedeemed {
		return ErrVoucherAlreadyRedeemed
	}
	return ErrSerializationConflict.Wrap(cause)
}

func (s *RedemptionService) recordFailure(ctx context.Context, session *VendorSessionContext, req *RedeemVoucherRequest, voucherID *uuid.UUID, cause error) {
	metadata := map[string]interface{}{}
	if req != nil {
		switch {
		case req.VoucherID != "":
			metadata["lookup"] = "voucher_id"
		case req.QRToken != "":
			metadata["lookup"] = "qr_token"
		}
		if req.LocationID != "" {
			metadata["location_id"] = req.LocationID
		}
	}

	entry := AuditEntry{
		VoucherID: voucherID,
		Action:    models.AuditActionRedemptionFailed,
		Reason:    errorCode(cause),
		Metadata:  metadata,
	}
	if session != nil {
		metadata["session_id"] = session.SessionID.String()
		entry.ActorID = &session.VendorUserID
		entry.ActorRole = models.RoleVendor
	}

	// The failed transaction has rolled back; this write stands alone.
	s.audit.AppendBestEffort(context.WithoutCancel(ctx), entry)
}

func isRetryable(err error) bool {
	switch classifyDBError(err) {
	case dbErrConflict, dbErrUnique:
		return true
	}
	return false
}
