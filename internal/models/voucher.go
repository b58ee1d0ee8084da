// internal/models/voucher.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// VoucherValidation is the proof-of-transaction row. The unique index on
// ExternalRef is the anti-duplication anchor for issuance.
type VoucherValidation struct {
	BaseModel
	BusinessID  uuid.UUID `json:"business_id" gorm:"type:uuid;not null;index"`
	DealID      uuid.UUID `json:"deal_id" gorm:"type:uuid;not null;index"`
	ExternalRef string    `json:"external_ref" gorm:"size:255;not null;uniqueIndex:ux_voucher_validations_external_ref"`

	Business Business `json:"-" gorm:"foreignKey:BusinessID;constraint:OnDelete:RESTRICT"`
	Deal     Deal     `json:"-" gorm:"foreignKey:DealID;constraint:OnDelete:RESTRICT"`
}

type Voucher struct {
	BaseModel
	ValidationID         uuid.UUID         `json:"validation_id" gorm:"type:uuid;not null;uniqueIndex:ux_vouchers_validation_id"`
	DealID               uuid.UUID         `json:"deal_id" gorm:"type:uuid;not null;index"`
	BusinessID           uuid.UUID         `json:"business_id" gorm:"type:uuid;not null;index"`
	AccountID            *uuid.UUID        `json:"account_id" gorm:"type:uuid;index"`
	QRToken              string            `json:"qr_token" gorm:"size:64;not null;uniqueIndex:ux_vouchers_qr_token"`
	Status               VoucherStatus     `json:"status" gorm:"type:varchar(20);not null;index;check:chk_vouchers_redeemed_fields,status <> 'REDEEMED' OR (redeemed_at IS NOT NULL AND redeemed_by_business_id IS NOT NULL)"`
	IssuedAt             time.Time         `json:"issued_at" gorm:"not null"`
	ExpiresAt            *time.Time        `json:"expires_at"`
	RedeemedAt           *time.Time        `json:"redeemed_at"`
	RedeemedByBusinessID *uuid.UUID        `json:"redeemed_by_business_id" gorm:"type:uuid"`
	RedeemedContext      datatypes.JSONMap `json:"redeemed_context,omitempty"`

	Validation VoucherValidation `json:"-" gorm:"foreignKey:ValidationID;constraint:OnDelete:RESTRICT"`
	Deal       Deal              `json:"-" gorm:"foreignKey:DealID;constraint:OnDelete:RESTRICT"`
	Business   Business          `json:"-" gorm:"foreignKey:BusinessID;constraint:OnDelete:RESTRICT"`
	Account    *User             `json:"-" gorm:"foreignKey:AccountID;constraint:OnDelete:RESTRICT"`
}

// ExpiredAt reports the derived EXPIRED condition; it never changes stored state.
func (v *Voucher) ExpiredAt(now time.Time) bool {
	return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
}

// Redemption is written once, alongside the ISSUED -> REDEEMED flip.
type Redemption struct {
	BaseModel
	VoucherID     uuid.UUID       `json:"voucher_id" gorm:"type:uuid;not null;uniqueIndex:ux_redemptions_voucher_id"`
	DealID        uuid.UUID       `json:"deal_id" gorm:"type:uuid;not null;index"`
	BusinessID    uuid.UUID       `json:"business_id" gorm:"type:uuid;not null;index"`
	VendorUserID  uuid.UUID       `json:"vendor_user_id" gorm:"type:uuid;not null;index"`
	LocationID    string          `json:"location_id,omitempty" gorm:"size:64"`
	RedeemedAt    time.Time       `json:"redeemed_at" gorm:"not null"`
	OriginalValue decimal.Decimal `json:"original_value" gorm:"type:decimal(12,2);not null"`
	DealPrice     decimal.Decimal `json:"deal_price" gorm:"type:decimal(12,2);not null"`

	Voucher    Voucher `json:"-" gorm:"foreignKey:VoucherID;constraint:OnDelete:RESTRICT"`
	VendorUser User    `json:"-" gorm:"foreignKey:VendorUserID;constraint:OnDelete:RESTRICT"`
}

// VoucherAuditLog is append-only. VoucherID is empty for failures where the
// voucher could not be resolved.
type VoucherAuditLog struct {
	ID        uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	VoucherID *uuid.UUID        `json:"voucher_id" gorm:"type:uuid;index"`
	ActorID   *uuid.UUID        `json:"actor_id" gorm:"type:uuid;index"`
	ActorRole string            `json:"actor_role" gorm:"size:10"`
	Action    AuditAction       `json:"action" gorm:"type:varchar(30);not null;index"`
	Reason    string            `json:"reason,omitempty" gorm:"size:50"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;index"`
}
