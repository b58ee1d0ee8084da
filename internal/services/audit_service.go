// internal/services/audit_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/models"
)

// AuditEntry is one voucher lifecycle event.
type AuditEntry struct {
	VoucherID *uuid.UUID
	ActorID   *uuid.UUID
	ActorRole models.Role
	Action    models.AuditAction
	Reason    string
	Metadata  map[string]interface{}
}

type ExportResult struct {
	Key     string `json:"key"`
	Entries int    `json:"entries"`
}

type AuditService struct {
	db       *gorm.DB
	archiver AuditArchiver
}

func NewAuditService(db *gorm.DB, archiver AuditArchiver) *AuditService {
	if archiver == nil {
		archiver = disabledArchiver{}
	}
	return &AuditService{db: db, archiver: archiver}
}

// Append writes entry through db, which is the caller's transaction when the
// event must commit or roll back together with a voucher write.
func (s *AuditService) Append(db *gorm.DB, entry AuditEntry) error {
	log := &models.VoucherAuditLog{
		ID:        uuid.New(),
		VoucherID: entry.VoucherID,
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		Reason:    entry.Reason,
		Metadata:  datatypes.JSONMap(entry.Metadata),
		CreatedAt: time.Now().UTC(),
	}
	if entry.ActorRole.Valid() {
		log.ActorRole = entry.ActorRole.String()
	}

	if err := db.Create(log).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AppendBestEffort writes entry on its own. Failures are logged, never returned.
func (s *AuditService) AppendBestEffort(ctx context.Context, entry AuditEntry) {
	if err := s.Append(s.db.WithContext(ctx), entry); err != nil {
		fields := logrus.Fields{"action": entry.Action, "reason": entry.Reason}
		if entry.VoucherID != nil {
			fields["voucher_id"] = entry.VoucherID.String()
		}
		logrus.WithError(err).WithFields(fields).Error("Failed to record voucher audit entry")
	}
}

func (s *AuditService) ListForVoucher(ctx context.Context, voucherID uuid.UUID) ([]models.VoucherAuditLog, error) {
	var entries []models.VoucherAuditLog
	err := s.db.WithContext(ctx).
		Where("voucher_id = ?", voucherID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}
	return entries, nil
}

// Export writes a voucher's audit trail to the archive and records the export.
func (s *AuditService) Export(ctx context.Context, admin *IdentityContext, voucherID uuid.UUID) (*ExportResult, error) {
	if err := Authorize(admin, models.RoleAdmin); err != nil {
		return nil, err
	}
	if !s.archiver.Enabled() {
		return nil, ErrArchiveUnavailable
	}

	var voucher models.Voucher
	if err := s.db.WithContext(ctx).Select("id").First(&voucher, "id = ?", voucherID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrVoucherNotFound
		}
		return nil, ErrInternal.Wrap(err)
	}

	entries, err := s.ListForVoucher(ctx, voucherID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	body, err := json.Marshal(map[string]interface{}{
		"voucher_id":  voucherID,
		"exported_at": now,
		"exported_by": admin.UserID,
		"entries":     entries,
	})
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	key := fmt.Sprintf("audit/vouchers/%s/%s.json", voucherID, now.Format("20060102T150405Z"))
	if err := s.archiver.Archive(ctx, key, body); err != nil {
		logrus.WithError(err).WithField("voucher_id", voucherID.String()).Error("Audit export failed")
		return nil, ErrInternal.Wrap(err)
	}

	s.AppendBestEffort(ctx, AuditEntry{
		VoucherID: &voucherID,
		ActorID:   &admin.UserID,
		ActorRole: admin.Role,
		Action:    models.AuditActionExported,
		Metadata:  map[string]interface{}{"key": key, "entries": len(entries)},
	})

	return &ExportResult{Key: key, Entries: len(entries)}, nil
}
