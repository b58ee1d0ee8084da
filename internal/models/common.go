// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// StringList is a text[] column on Postgres and an encoded text column elsewhere.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	return pq.StringArray(l).Value()
}

func (l *StringList) Scan(src interface{}) error {
	return (*pq.StringArray)(l).Scan(src)
}

func (StringList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func (l StringList) Contains(value string) bool {
	for _, v := range l {
		if v == value {
			return true
		}
	}
	return false
}

// Role is closed over exactly three values. The zero value is not a role, so
// an unparsed or missing role never satisfies any guard.
type Role uint8

const (
	roleInvalid Role = iota
	RoleUser
	RoleVendor
	RoleAdmin
)

func ParseRole(s string) (Role, error) {
	switch s {
	case "USER":
		return RoleUser, nil
	case "VENDOR":
		return RoleVendor, nil
	case "ADMIN":
		return RoleAdmin, nil
	}
	return roleInvalid, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "USER"
	case RoleVendor:
		return "VENDOR"
	case RoleAdmin:
		return "ADMIN"
	}
	return "INVALID"
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot persist invalid role")
	}
	return r.String(), nil
}

func (r *Role) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported role column type %T", src)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (Role) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return "varchar(10)"
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Enums
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

type BusinessStatus string

const (
	BusinessStatusDraft     BusinessStatus = "DRAFT"
	BusinessStatusActive    BusinessStatus = "ACTIVE"
	BusinessStatusSuspended BusinessStatus = "SUSPENDED"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

type DealStatus string

const (
	DealStatusInactive DealStatus = "INACTIVE"
	DealStatusActive   DealStatus = "ACTIVE"
	DealStatusExpired  DealStatus = "EXPIRED"
)

type VoucherStatus string

const (
	VoucherStatusIssued   VoucherStatus = "ISSUED"
	VoucherStatusAssigned VoucherStatus = "ASSIGNED"
	VoucherStatusRedeemed VoucherStatus = "REDEEMED"
	VoucherStatusExpired  VoucherStatus = "EXPIRED"
)

type AuditAction string

const (
	AuditActionIssued           AuditAction = "ISSUED"
	AuditActionIssueReplayed    AuditAction = "ISSUE_REPLAYED"
	AuditActionRedeemed         AuditAction = "REDEEMED"
	AuditActionRedemptionFailed AuditAction = "REDEMPTION_FAILED"
	AuditActionExported         AuditAction = "AUDIT_EXPORTED"
)
