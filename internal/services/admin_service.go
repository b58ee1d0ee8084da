// internal/services/admin_service.go
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/database"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

// AdminService holds the moderation operations. None of them write vouchers
// or redemptions.
type AdminService struct {
	db *gorm.DB
}

// RequestMeta identifies where an admin action came from.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type BindVendorRequest struct {
	BusinessID string `json:"business_id" validate:"required,uuid"`
}

type UpdateUserStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE SUSPENDED"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type UpdateBusinessStatusRequest struct {
	Status             string `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE SUSPENDED"`
	SubscriptionStatus string `json:"subscription_status" validate:"omitempty,oneof=ACTIVE PAST_DUE CANCELED"`
}

type UpdateDealStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=INACTIVE ACTIVE EXPIRED"`
}

type AdminAuditFilter struct {
	utils.PaginationParams
	ResourceType string
	ResourceID   *uuid.UUID
}

func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{db: db}
}

// BindVendor sets the one-time vendor to business binding. A vendor already
// owning a business, or a business already owned, is rejected.
func (s *AdminService) BindVendor(ctx context.Context, admin *IdentityContext, vendorID uuid.UUID, req *BindVendorRequest, meta RequestMeta) (*models.Business, error) {
	if err := Authorize(admin, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	businessID := uuid.MustParse(req.BusinessID)

	var business models.Business
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var vendor models.User
		if err := tx.First(&vendor, "id = ?", vendorID).Error; err != nil {
			if isNotFound(err) {
				return ErrNotFound.WithMessage("user not found")
			}
			return err
		}

		if vendor.Role != models.RoleVendor {
			return ErrInvalidTarget
		}

		if err := tx.First(&business, "id = ?", businessID).Error; err != nil {
			if isNotFound(err) {
				return ErrNotFound.WithMessage("business not found")
			}
			return err
		}

		// Only an unowned business can be claimed; the unique index on
		// owner_user_id rejects a second business for the same vendor.
		result := tx.Model(&models.Business{}).
			Where("id = ? AND owner_user_id IS NULL", businessID).
			Update("owner_user_id", vendorID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrAlreadyBound
		}
		business.OwnerUserID = &vendorID

		return s.createAuditLog(tx, admin.UserID, "BIND_VENDOR", "business", &businessID, meta,
			map[string]interface{}{"owner_user_id": nil},
			map[string]interface{}{"owner_user_id": vendorID.String()})
	})
	if err != nil {
		return nil, s.translate(err, "bind_vendor")
	}

	return &business, nil
}

// UpdateUserStatus suspends or reactivates an identity. Roles are never changed.
func (s *AdminService) UpdateUserStatus(ctx context.Context, admin *IdentityContext, userID uuid.UUID, req *UpdateUserStatusRequest, meta RequestMeta) (*models.User, error) {
	if err := Authorize(admin, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}

	var user models.User
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if isNotFound(err) {
				return ErrNotFound.WithMessage("user not found")
			}
			return err
		}

		// Prevent admins from modifying other admins
		if user.Role == models.RoleAdmin && user.ID != admin.UserID {
			return ErrForbidden.WithMessage("cannot modify another admin")
		}

		oldStatus := user.Status
		user.Status = models.UserStatus(req.Status)
		if err := tx.Model(&user).Update("status", user.Status).Error; err != nil {
			return err
		}

		return s.createAuditLog(tx, admin.UserID, "UPDATE_USER_STATUS", "user", &userID, meta,
			map[string]interface{}{"status": oldStatus},
			map[string]interface{}{"status": user.Status, "reason": req.Reason})
	})
	if err != nil {
		return nil, s.translate(err, "update_user_status")
	}

	return &user, nil
}

func (s *AdminService) UpdateBusinessStatus(ctx context.Context, admin *IdentityContext, businessID uuid.UUID, req *UpdateBusinessStatusRequest, meta RequestMeta) (*models.Business, error) {
	if err := Authorize(admin, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	if req.Status == "" && req.SubscriptionStatus == "" {
		return nil, ErrValidation.WithMessage("status or subscription_status is required")
	}

	var business models.Business
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.First(&business, "id = ?", businessID).Error; err != nil {
			if isNotFound(err) {
				return ErrNotFound.WithMessage("business not found")
			}
			return err
		}

		oldValues := map[string]interface{}{"status": business.Status, "subscription_status": business.SubscriptionStatus}
		updates := map[string]interface{}{}
		if req.Status != "" {
			business.Status = models.BusinessStatus(req.Status)
			updates["status"] = business.Status
		}
		if req.SubscriptionStatus != "" {
			business.SubscriptionStatus = models.SubscriptionStatus(req.SubscriptionStatus)
			updates["subscription_status"] = business.SubscriptionStatus
		}

		if err := tx.Model(&models.Business{}).Where("id = ?", businessID).Updates(updates).Error; err != nil {
			return err
		}

		return s.createAuditLog(tx, admin.UserID, "UPDATE_BUSINESS_STATUS", "business", &businessID, meta, oldValues, updates)
	})
	if err != nil {
		return nil, s.translate(err, "update_business_status")
	}

	return &business, nil
}

func (s *AdminService) UpdateDealStatus(ctx context.Context, admin *IdentityContext, dealID uuid.UUID, req *UpdateDealStatusRequest, meta RequestMeta) (*models.Deal, error) {
	if err := Authorize(admin, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}

	var deal models.Deal
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.First(&deal, "id = ?", dealID).Error; err != nil {
			if isNotFound(err) {
				return ErrNotFound.WithMessage("deal not found")
			}
			return err
		}

		oldStatus := deal.Status
		deal.Status = models.DealStatus(req.Status)
		if err := tx.Model(&models.Deal{}).Where("id = ?", dealID).Update("status", deal.Status).Error; err != nil {
			return err
		}

		return s.createAuditLog(tx, admin.UserID, "UPDATE_DEAL_STATUS", "deal", &dealID, meta,
			map[string]interface{}{"status": oldStatus},
			map[string]interface{}{"status": deal.Status})
	})
	if err != nil {
		return nil, s.translate(err, "update_deal_status")
	}

	return &deal, nil
}

func (s *AdminService) GetAuditLogs(ctx context.Context, admin *IdentityContext, filter AdminAuditFilter) ([]models.AuditLog, int64, error) {
	if err := Authorize(admin, models.RoleAdmin); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != nil {
		query = query.Where("resource_id = ?", *filter.ResourceID)
	}

	// Get total count
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, ErrInternal.Wrap(err)
	}

	// Apply sorting and pagination
	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at", "action", "resource_type"})
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var logs []models.AuditLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, ErrInternal.Wrap(err)
	}

	return logs, total, nil
}

// Helper methods
func (s *AdminService) createAuditLog(tx *gorm.DB, adminID uuid.UUID, action, resourceType string, resourceID *uuid.UUID, meta RequestMeta, oldValues, newValues map[string]interface{}) error {
	auditLog := &models.AuditLog{
		UserID:       &adminID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    oldValues,
		NewValues:    newValues,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}

	return tx.Create(auditLog).Error
}

func (s *AdminService) translate(err error, stage string) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	if isUniqueViolation(err) {
		return ErrAlreadyBound.Wrap(err)
	}
	logrus.WithError(err).WithField("stage", stage).Error("Admin action failed")
	return ErrInternal.Wrap(err)
}
