// internal/services/session_service.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

// VendorSessionContext is a resolved operational session used for redemption.
type VendorSessionContext struct {
	SessionID    uuid.UUID
	VendorUserID uuid.UUID
	BusinessIDs  []uuid.UUID
	LocationIDs  []string
}

func (c *VendorSessionContext) AuthorizedBusiness(businessID uuid.UUID) bool {
	for _, id := range c.BusinessIDs {
		if id == businessID {
			return true
		}
	}
	return false
}

// AuthorizedLocation reports whether locationID may be used. Sessions without
// a location list are not location constrained.
func (c *VendorSessionContext) AuthorizedLocation(locationID string) bool {
	if len(c.LocationIDs) == 0 {
		return true
	}
	if locationID == "" {
		return false
	}
	for _, id := range c.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

type OpenSessionRequest struct {
	LocationIDs []string `json:"location_ids,omitempty" validate:"omitempty,max=50,dive,required,max=64"`
}

type OpenSessionResult struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	BusinessIDs  []string  `json:"business_ids"`
	LocationIDs  []string  `json:"location_ids"`
}

type VendorSessionService struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewVendorSessionService(db *gorm.DB, ttlHours int) *VendorSessionService {
	return &VendorSessionService{
		db:  db,
		ttl: time.Duration(ttlHours) * time.Hour,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open starts a session for a bound vendor. The plain token is returned once.
func (s *VendorSessionService) Open(ctx context.Context, vendor *VendorContext, req *OpenSessionRequest) (*OpenSessionResult, error) {
	if vendor == nil {
		return nil, ErrUnauthenticated
	}
	if err := Authorize(&vendor.IdentityContext, models.RoleVendor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}

	token, hash, err := utils.GenerateSessionToken()
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	session := &models.VendorSession{
		VendorUserID: vendor.UserID,
		TokenHash:    hash,
		BusinessIDs:  models.StringList{vendor.BusinessID.String()},
		LocationIDs:  models.StringList(req.LocationIDs),
		ExpiresAt:    s.now().Add(s.ttl),
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	locations := []string(session.LocationIDs)
	if locations == nil {
		locations = []string{}
	}

	return &OpenSessionResult{
		SessionToken: token,
		ExpiresAt:    session.ExpiresAt,
		BusinessIDs:  []string(session.BusinessIDs),
		LocationIDs:  locations,
	}, nil
}

// Resolve maps a presented session token to its session. Missing, unknown,
// revoked and expired tokens are all INVALID_SESSION.
func (s *VendorSessionService) Resolve(ctx context.Context, token string) (*VendorSessionContext, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	var session models.VendorSession
	err := s.db.WithContext(ctx).
		Preload("VendorUser").
		First(&session, "token_hash = ?", utils.HashString(token)).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidSession
		}
		return nil, ErrInternal.Wrap(err)
	}

	if !session.Active(s.now()) {
		return nil, ErrInvalidSession
	}

	if session.VendorUser.Role != models.RoleVendor {
		return nil, ErrInvalidSession
	}
	if session.VendorUser.Status != models.UserStatusActive {
		return nil, ErrSuspended
	}

	businessIDs := make([]uuid.UUID, 0, len(session.BusinessIDs))
	for _, raw := range session.BusinessIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, ErrInvalidSession.Wrap(err)
		}
		businessIDs = append(businessIDs, id)
	}

	return &VendorSessionContext{
		SessionID:    session.ID,
		VendorUserID: session.VendorUserID,
		BusinessIDs:  businessIDs,
		LocationIDs:  []string(session.LocationIDs),
	}, nil
}

// Revoke ends the session identified by token. Only the owning vendor may revoke it.
func (s *VendorSessionService) Revoke(ctx context.Context, vendorUserID uuid.UUID, token string) error {
	if token == "" {
		return ErrInvalidSession
	}

	result := s.db.WithContext(ctx).
		Model(&models.VendorSession{}).
		Where("token_hash = ? AND vendor_user_id = ? AND revoked_at IS NULL", utils.HashString(token), vendorUserID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return ErrInternal.Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidSession
	}
	return nil
}
