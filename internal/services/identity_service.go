// internal/services/identity_service.go
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

// IdentityContext is the authenticated caller.
type IdentityContext struct {
	UserID uuid.UUID   `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
}

// VendorContext is a vendor identity together with its single business binding.
type VendorContext struct {
	IdentityContext
	BusinessID uuid.UUID `json:"business_id"`
}

// Viewer is the caller as seen by the read-only projections.
type Viewer struct {
	UserID     uuid.UUID
	Role       models.Role
	BusinessID *uuid.UUID
}

type IdentityService struct {
	db *gorm.DB
}

func NewIdentityService(db *gorm.DB) *IdentityService {
	return &IdentityService{db: db}
}

// AuthenticateIdentity resolves a bearer token to an active identity. The
// identity row is re-read on every call so suspensions apply immediately.
func (s *IdentityService) AuthenticateIdentity(ctx context.Context, token string) (*IdentityContext, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := utils.ValidateJWT(token)
	if err != nil {
		return nil, ErrUnauthenticated.Wrap(err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrUnauthenticated.Wrap(err)
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthenticated
		}
		return nil, ErrInternal.Wrap(err)
	}

	// Roles never change after creation, so a token naming another role
	// was not minted for this identity.
	if user.Role.String() != claims.Role {
		logrus.WithField("user_id", user.ID).Warn("Token role does not match identity role")
		return nil, ErrUnauthenticated
	}

	if user.Status != models.UserStatusActive {
		return nil, ErrSuspended
	}

	return &IdentityContext{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// RequireRole authenticates and then checks the identity holds role.
func (s *IdentityService) RequireRole(ctx context.Context, token string, role models.Role) (*IdentityContext, error) {
	identity, err := s.AuthenticateIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := Authorize(identity, role); err != nil {
		return nil, err
	}
	return identity, nil
}

// RequireVendorOwnership authenticates a vendor and resolves its business binding.
func (s *IdentityService) RequireVendorOwnership(ctx context.Context, token string) (*VendorContext, error) {
	identity, err := s.RequireRole(ctx, token, models.RoleVendor)
	if err != nil {
		return nil, err
	}
	return s.VendorBinding(ctx, identity)
}

// VendorBinding resolves the business bound to an already authenticated vendor.
func (s *IdentityService) VendorBinding(ctx context.Context, identity *IdentityContext) (*VendorContext, error) {
	if err := Authorize(identity, models.RoleVendor); err != nil {
		return nil, err
	}

	var business models.Business
	if err := s.db.WithContext(ctx).Select("id").First(&business, "owner_user_id = ?", identity.UserID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrForbidden.WithMessage("vendor has no business binding")
		}
		return nil, ErrInternal.Wrap(err)
	}

	return &VendorContext{IdentityContext: *identity, BusinessID: business.ID}, nil
}

// ViewerFor builds the projection viewer, attaching the business binding for
// vendors. An unbound vendor sees nothing business-scoped.
func (s *IdentityService) ViewerFor(ctx context.Context, identity *IdentityContext) (*Viewer, error) {
	viewer := &Viewer{UserID: identity.UserID, Role: identity.Role}

	switch identity.Role {
	case models.RoleVendor:
		vendor, err := s.VendorBinding(ctx, identity)
		if err == nil {
			viewer.BusinessID = &vendor.BusinessID
		} else if !isServiceCode(err, CodeForbidden) {
			return nil, err
		}
	case models.RoleUser, models.RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	return viewer, nil
}

// Authorize checks identity against the allowed roles. Every role is handled
// explicitly; anything else is denied.
func Authorize(identity *IdentityContext, allowed ...models.Role) error {
	if identity == nil {
		return ErrUnauthenticated
	}

	switch identity.Role {
	case models.RoleUser, models.RoleVendor, models.RoleAdmin:
		for _, role := range allowed {
			if identity.Role == role {
				return nil
			}
		}
		return ErrForbidden
	default:
		return ErrForbidden
	}
}

func isServiceCode(err error, code string) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == code
}
