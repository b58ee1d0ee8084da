// internal/testutil/testutil.go
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/database"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/utils"
)

const (
	JWTSecret = "test-secret-key"
	Password  = "Str0ng!Passw0rd"
)

var dbCounter int64

// Bounds are generous so goroutines queued on the single sqlite connection
// do not time out under -race.
var Bounds = database.TxBounds{Timeout: 15 * time.Second, LockTimeout: 5 * time.Second}

// OpenDB returns a migrated in-memory sqlite database private to the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(), atomic.AddInt64(&dbCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), database.NewGormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.RunMigrations(db))
	utils.SetJWTSecret(JWTSecret)
	return db
}

func CreateUser(t *testing.T, db *gorm.DB, role models.Role) *models.User {
	t.Helper()

	user := &models.User{
		Email:       fmt.Sprintf("%s-%s@example.com", role.String(), uuid.NewString()[:8]),
		DisplayName: role.String(),
		Role:        role,
		Status:      models.UserStatusActive,
	}
	require.NoError(t, user.SetPassword(Password))
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateBusiness creates an ACTIVE business, owned by owner when non-nil.
func CreateBusiness(t *testing.T, db *gorm.DB, owner *models.User) *models.Business {
	t.Helper()

	business := &models.Business{
		Name:               "Business " + uuid.NewString()[:8],
		Status:             models.BusinessStatusActive,
		SubscriptionStatus: models.SubscriptionStatusActive,
	}
	if owner != nil {
		business.OwnerUserID = &owner.ID
	}
	require.NoError(t, db.Create(business).Error)
	return business
}

// CreateDeal creates a deal priced at 25.00 with the given status.
func CreateDeal(t *testing.T, db *gorm.DB, business *models.Business, status models.DealStatus) *models.Deal {
	t.Helper()

	deal := &models.Deal{
		BusinessID:    business.ID,
		Title:         "Deal " + uuid.NewString()[:8],
		Status:        status,
		OriginalValue: decimal.RequireFromString("40.00"),
		DealPrice:     decimal.RequireFromString("25.00"),
	}
	require.NoError(t, db.Create(deal).Error)
	return deal
}

// Token mints an access token for user.
func Token(t *testing.T, user *models.User) string {
	t.Helper()

	token, err := utils.GenerateJWT(user.ID, user.Email, user.Role.String(), 1)
	require.NoError(t, err)
	return token
}

func SetStatus(t *testing.T, db *gorm.DB, model interface{}, id uuid.UUID, status string) {
	t.Helper()
	require.NoError(t, db.Model(model).Where("id = ?", id).Update("status", status).Error)
}
