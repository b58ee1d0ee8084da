// internal/services/visibility_service.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

// VoucherView is a voucher as stored, plus the read-time expiry flag.
type VoucherView struct {
	models.Voucher
	IsExpired bool `json:"is_expired"`
}

type RedemptionHistory struct {
	Voucher    VoucherView              `json:"voucher"`
	Redemption *models.Redemption       `json:"redemption"`
	Events     []models.VoucherAuditLog `json:"events"`
}

type VoucherFilter struct {
	utils.PaginationParams
	BusinessID *uuid.UUID
	DealID     *uuid.UUID
	AccountID  *uuid.UUID
}

var voucherSortFields = []string{"created_at", "issued_at", "expires_at", "redeemed_at", "status"}
var redemptionSortFields = []string{"created_at", "redeemed_at"}

// VisibilityService serves read-only projections. It never writes.
type VisibilityService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

func NewVisibilityService(db *gorm.DB, audit *AuditService) *VisibilityService {
	return &VisibilityService{
		db:    db,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListVouchers returns the vouchers visible to viewer. Users see their own,
// vendors their business's, admins everything matching the filter.
func (s *VisibilityService) ListVouchers(ctx context.Context, viewer *Viewer, filter VoucherFilter) ([]VoucherView, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Voucher{})

	scoped, err := s.scopeVouchers(query, viewer)
	if err != nil {
		return nil, 0, err
	}
	query = scoped

	if filter.BusinessID != nil {
		query = query.Where("business_id = ?", *filter.BusinessID)
	}
	if filter.DealID != nil {
		query = query.Where("deal_id = ?", *filter.DealID)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, ErrInternal.Wrap(err)
	}

	var vouchers []models.Voucher
	query = utils.ApplySort(query, filter.PaginationParams, voucherSortFields)
	query = utils.ApplyPagination(query, filter.PaginationParams)
	if err := query.Find(&vouchers).Error; err != nil {
		return nil, 0, ErrInternal.Wrap(err)
	}

	now := s.now()
	views := make([]VoucherView, 0, len(vouchers))
	for _, v := range vouchers {
		views = append(views, VoucherView{Voucher: v, IsExpired: v.ExpiredAt(now)})
	}
	return views, total, nil
}

// ListRedemptions returns redemptions visible to viewer. Users have no
// redemption listing of their own; they see redemption state on their vouchers.
func (s *VisibilityService) ListRedemptions(ctx context.Context, viewer *Viewer, filter VoucherFilter) ([]models.Redemption, int64, error) {
	if viewer == nil {
		return nil, 0, ErrUnauthenticated
	}
	query := s.db.WithContext(ctx).Model(&models.Redemption{})

	switch viewer.Role {
	case models.RoleAdmin:
	case models.RoleVendor:
		if viewer.BusinessID == nil {
			return []models.Redemption{}, 0, nil
		}
		query = query.Where("business_id = ?", *viewer.BusinessID)
	case models.RoleUser:
		return nil, 0, ErrForbidden
	default:
		return nil, 0, ErrForbidden
	}

	if filter.BusinessID != nil {
		query = query.Where("business_id = ?", *filter.BusinessID)
	}
	if filter.DealID != nil {
		query = query.Where("deal_id = ?", *filter.DealID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, ErrInternal.Wrap(err)
	}

	var redemptions []models.Redemption
	query = utils.ApplySort(query, filter.PaginationParams, redemptionSortFields)
	query = utils.ApplyPagination(query, filter.PaginationParams)
	if err := query.Find(&redemptions).Error; err != nil {
		return nil, 0, ErrInternal.Wrap(err)
	}
	return redemptions, total, nil
}

// GetVoucher returns one voucher. Vouchers the viewer may not see are
// reported as not found.
func (s *VisibilityService) GetVoucher(ctx context.Context, viewer *Viewer, voucherID uuid.UUID) (*VoucherView, error) {
	var voucher models.Voucher
	if err := s.db.WithContext(ctx).First(&voucher, "id = ?", voucherID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrVoucherNotFound
		}
		return nil, ErrInternal.Wrap(err)
	}

	if !canView(viewer, &voucher) {
		return nil, ErrVoucherNotFound
	}

	return &VoucherView{Voucher: voucher, IsExpired: voucher.ExpiredAt(s.now())}, nil
}

func (s *VisibilityService) GetRedemptionHistory(ctx context.Context, viewer *Viewer, voucherID uuid.UUID) (*RedemptionHistory, error) {
	view, err := s.GetVoucher(ctx, viewer, voucherID)
	if err != nil {
		return nil, err
	}

	history := &RedemptionHistory{Voucher: *view, Events: []models.VoucherAuditLog{}}

	var redemption models.Redemption
	err = s.db.WithContext(ctx).First(&redemption, "voucher_id = ?", voucherID).Error
	switch {
	case err == nil:
		history.Redemption = &redemption
	case !isNotFound(err):
		return nil, ErrInternal.Wrap(err)
	}

	events, err := s.audit.ListForVoucher(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if events != nil {
		history.Events = events
	}

	return history, nil
}

func (s *VisibilityService) scopeVouchers(query *gorm.DB, viewer *Viewer) (*gorm.DB, error) {
	if viewer == nil {
		return nil, ErrUnauthenticated
	}

	switch viewer.Role {
	case models.RoleAdmin:
		return query, nil
	case models.RoleVendor:
		if viewer.BusinessID == nil {
			return query.Where("1 = 0"), nil
		}
		return query.Where("business_id = ?", *viewer.BusinessID), nil
	case models.RoleUser:
		return query.Where("account_id = ?", viewer.UserID), nil
	default:
		return nil, ErrForbidden
	}
}

func canView(viewer *Viewer, voucher *models.Voucher) bool {
	if viewer == nil {
		return false
	}

	switch viewer.Role {
	case models.RoleAdmin:
		return true
	case models.RoleVendor:
		return viewer.BusinessID != nil && *viewer.BusinessID == voucher.BusinessID
	case models.RoleUser:
		return voucher.AccountID != nil && *voucher.AccountID == viewer.UserID
	default:
		return false
	}
}
