// internal/models/user.go
package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is the Identity record. Role is fixed at creation.
type User struct {
	BaseModel
	Email        string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	DisplayName  string     `json:"display_name" gorm:"size:100"`
	PasswordHash string     `json:"-" gorm:"size:255;not null"`
	Role         Role       `json:"role" gorm:"not null;index"`
	Status       UserStatus `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

// VendorSession is an operational redemption session opened by a vendor.
// Only the SHA-256 of the session token is stored.
type VendorSession struct {
	BaseModel
	VendorUserID uuid.UUID  `json:"vendor_user_id" gorm:"type:uuid;not null;index"`
	TokenHash    string     `json:"-" gorm:"size:64;not null;uniqueIndex"`
	BusinessIDs  StringList `json:"business_ids" gorm:"not null"`
	LocationIDs  StringList `json:"location_ids"`
	ExpiresAt    time.Time  `json:"expires_at" gorm:"not null;index"`
	RevokedAt    *time.Time `json:"revoked_at"`

	VendorUser User `json:"-" gorm:"foreignKey:VendorUserID;constraint:OnDelete:RESTRICT"`
}

func (s *VendorSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
