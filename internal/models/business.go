// internal/models/business.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Business is owned by the directory; the voucher core only reads it, apart
// from the one-time vendor binding. The unique index on OwnerUserID is what
// keeps a vendor to a single business.
type Business struct {
	BaseModel
	Name               string             `json:"name" gorm:"size:255;not null"`
	OwnerUserID        *uuid.UUID         `json:"owner_user_id" gorm:"type:uuid;uniqueIndex"`
	Status             BusinessStatus     `json:"status" gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" gorm:"type:varchar(20);not null;default:'ACTIVE'"`

	Owner *User `json:"-" gorm:"foreignKey:OwnerUserID;constraint:OnDelete:RESTRICT"`
}

type Deal struct {
	BaseModel
	BusinessID      uuid.UUID       `json:"business_id" gorm:"type:uuid;not null;index"`
	Title           string          `json:"title" gorm:"size:255;not null"`
	Status          DealStatus      `json:"status" gorm:"type:varchar(20);not null;default:'INACTIVE';index"`
	OriginalValue   decimal.Decimal `json:"original_value" gorm:"type:decimal(12,2);not null;default:0"`
	DealPrice       decimal.Decimal `json:"deal_price" gorm:"type:decimal(12,2);not null"`
	VoucherTTLHours int             `json:"voucher_ttl_hours" gorm:"not null;default:0"`
	LastActiveAt    *time.Time      `json:"last_active_at"`

	Business Business `json:"-" gorm:"foreignKey:BusinessID;constraint:OnDelete:RESTRICT"`
}
