// internal/services/auth_service.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/config"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

type AuthService struct {
	db  *gorm.DB
	cfg *config.Config
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest creates USER or VENDOR identities. Admins are seeded or
// created out of band.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,strong_password"`
	DisplayName string `json:"display_name" validate:"omitempty,max=100"`
	Role        string `json:"role" validate:"required,oneof=USER VENDOR ADMIN"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"` // in seconds
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:  db,
		cfg: cfg,
	}
}

func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	switch role {
	case models.RoleUser, models.RoleVendor:
	case models.RoleAdmin:
		return nil, ErrForbidden.WithMessage("admin identities cannot self-register")
	default:
		return nil, ErrValidation
	}

	user := &models.User{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        role,
		Status:      models.UserStatusActive,
	}

	// Set password
	if err := user.SetPassword(req.Password); err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	// The unique index on email decides concurrent registrations.
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, ErrInternal.Wrap(err)
	}

	return s.issueTokens(user)
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}

	// Find user by email
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthenticated.WithMessage("invalid email or password")
		}
		return nil, ErrInternal.Wrap(err)
	}

	// Verify password
	if err := user.CheckPassword(req.Password); err != nil {
		return nil, ErrUnauthenticated.WithMessage("invalid email or password")
	}

	if user.Status != models.UserStatusActive {
		return nil, ErrSuspended
	}

	// Update last login time
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&user).UpdateColumn("last_login_at", now).Error; err != nil {
		return nil, ErrInternal.Wrap(err)
	}
	user.LastLoginAt = &now

	return s.issueTokens(&user)
}

func (s *AuthService) RefreshToken(ctx context.Context, req *RefreshRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrValidation.Wrap(err)
	}

	// Validate refresh token
	userIDStr, err := utils.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		return nil, ErrUnauthenticated.Wrap(err)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, ErrUnauthenticated.Wrap(err)
	}

	// Find user
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthenticated
		}
		return nil, ErrInternal.Wrap(err)
	}

	// Check user status
	if user.Status != models.UserStatusActive {
		return nil, ErrSuspended
	}

	return s.issueTokens(&user)
}

func (s *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, ErrInternal.Wrap(err)
	}
	return &user, nil
}

func (s *AuthService) issueTokens(user *models.User) (*AuthResponse, error) {
	accessToken, err := utils.GenerateJWT(user.ID, user.Email, user.Role.String(), s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	refreshToken, err := utils.GenerateRefreshToken(user.ID, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.JWT.AccessTokenTTL * 3600, // Convert hours to seconds
	}, nil
}
