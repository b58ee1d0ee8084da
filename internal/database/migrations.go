// internal/database/migrations.go
package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/models"
)

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.Business{},
		&models.Deal{},
		&models.VendorSession{},
		&models.VoucherValidation{},
		&models.Voucher{},
		&models.Redemption{},
		&models.VoucherAuditLog{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// The uniqueness and FK constraints come from the model tags. The
	// triggers below make the terminal and append-only rules hold for
	// writes that bypass the services too.
	if err := createGuards(db); err != nil {
		return fmt.Errorf("failed to create storage guards: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createGuards(db *gorm.DB) error {
	var statements []string
	if db.Dialector.Name() == "postgres" {
		statements = postgresGuards
	} else {
		statements = sqliteGuards
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

var postgresGuards = []string{
	`CREATE OR REPLACE FUNCTION forbid_redeemed_voucher_update() RETURNS trigger AS $$
	BEGIN
		IF OLD.status = 'REDEEMED' THEN
			RAISE EXCEPTION 'redeemed voucher % is immutable', OLD.id;
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_vouchers_redeemed_immutable ON vouchers`,
	`CREATE TRIGGER trg_vouchers_redeemed_immutable BEFORE UPDATE ON vouchers
		FOR EACH ROW EXECUTE FUNCTION forbid_redeemed_voucher_update()`,

	`CREATE OR REPLACE FUNCTION forbid_append_only_change() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_redemptions_append_only ON redemptions`,
	`CREATE TRIGGER trg_redemptions_append_only BEFORE UPDATE OR DELETE ON redemptions
		FOR EACH ROW EXECUTE FUNCTION forbid_append_only_change()`,
	`DROP TRIGGER IF EXISTS trg_voucher_audit_logs_append_only ON voucher_audit_logs`,
	`CREATE TRIGGER trg_voucher_audit_logs_append_only BEFORE UPDATE OR DELETE ON voucher_audit_logs
		FOR EACH ROW EXECUTE FUNCTION forbid_append_only_change()`,
}

var sqliteGuards = []string{
	`CREATE TRIGGER IF NOT EXISTS trg_vouchers_redeemed_immutable BEFORE UPDATE ON vouchers
		WHEN OLD.status = 'REDEEMED'
		BEGIN SELECT RAISE(ABORT, 'redeemed voucher is immutable'); END`,
	`CREATE TRIGGER IF NOT EXISTS trg_redemptions_no_update BEFORE UPDATE ON redemptions
		BEGIN SELECT RAISE(ABORT, 'redemptions is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS trg_redemptions_no_delete BEFORE DELETE ON redemptions
		BEGIN SELECT RAISE(ABORT, 'redemptions is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS trg_voucher_audit_logs_no_update BEFORE UPDATE ON voucher_audit_logs
		BEGIN SELECT RAISE(ABORT, 'voucher_audit_logs is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS trg_voucher_audit_logs_no_delete BEFORE DELETE ON voucher_audit_logs
		BEGIN SELECT RAISE(ABORT, 'voucher_audit_logs is append-only'); END`,
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_users_role_status ON users(role, status)",
		"CREATE INDEX IF NOT EXISTS idx_deals_business_status ON deals(business_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_vouchers_business_status ON vouchers(business_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_vouchers_account_created ON vouchers(account_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_redemptions_business_redeemed ON redemptions(business_id, redeemed_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_voucher_audit_logs_voucher_created ON voucher_audit_logs(voucher_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}
