// internal/services/helpers_test.go
package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/config"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/testutil"
)

var testPolicy = config.VoucherConfig{DefaultTTLHours: 720, MaxTTLHours: 2160}

type testEnv struct {
	db         *gorm.DB
	identity   *IdentityService
	sessions   *VendorSessionService
	gate       *GateService
	audit      *AuditService
	issuance   *IssuanceService
	redemption *RedemptionService
	visibility *VisibilityService
	admin      *AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.OpenDB(t)
	gate := NewGateService(db)
	audit := NewAuditService(db, nil)

	return &testEnv{
		db:         db,
		identity:   NewIdentityService(db),
		sessions:   NewVendorSessionService(db, 12),
		gate:       gate,
		audit:      audit,
		issuance:   NewIssuanceService(db, gate, audit, nil, nil, testutil.Bounds, testPolicy),
		redemption: NewRedemptionService(db, audit, nil, testutil.Bounds),
		visibility: NewVisibilityService(db, audit),
		admin:      NewAdminService(db),
	}
}

// vendorFixture is a vendor bound to an active business with one active deal.
type vendorFixture struct {
	user     *models.User
	business *models.Business
	deal     *models.Deal
	ctx      *VendorContext
}

func (e *testEnv) newVendor(t *testing.T) *vendorFixture {
	t.Helper()

	user := testutil.CreateUser(t, e.db, models.RoleVendor)
	business := testutil.CreateBusiness(t, e.db, user)
	deal := testutil.CreateDeal(t, e.db, business, models.DealStatusActive)

	return &vendorFixture{
		user:     user,
		business: business,
		deal:     deal,
		ctx: &VendorContext{
			IdentityContext: IdentityContext{UserID: user.ID, Email: user.Email, Role: models.RoleVendor},
			BusinessID:      business.ID,
		},
	}
}

func (e *testEnv) issue(t *testing.T, v *vendorFixture, externalRef string) *models.Voucher {
	t.Helper()

	result, err := e.issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{
		ExternalRef: externalRef,
		DealID:      v.deal.ID.String(),
	})
	require.NoError(t, err)
	return result.Voucher
}

func (e *testEnv) openSession(t *testing.T, v *vendorFixture, locations ...string) *VendorSessionContext {
	t.Helper()

	opened, err := e.sessions.Open(context.Background(), v.ctx, &OpenSessionRequest{LocationIDs: locations})
	require.NoError(t, err)

	session, err := e.sessions.Resolve(context.Background(), opened.SessionToken)
	require.NoError(t, err)
	return session
}

func identityOf(user *models.User) *IdentityContext {
	return &IdentityContext{UserID: user.ID, Email: user.Email, Role: user.Role}
}

func count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()

	require.Error(t, err)
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, code, serviceErr.Code, "unexpected error: %v", err)
}

// failureRecorded runs attempt and returns the one REDEMPTION_FAILED row it wrote.
func (e *testEnv) failureRecorded(t *testing.T, attempt func()) models.VoucherAuditLog {
	t.Helper()

	failures := func() []models.VoucherAuditLog {
		var rows []models.VoucherAuditLog
		require.NoError(t, e.db.Where("action = ?", models.AuditActionRedemptionFailed).Find(&rows).Error)
		return rows
	}

	seen := make(map[uuid.UUID]bool)
	for _, row := range failures() {
		seen[row.ID] = true
	}

	attempt()

	var added []models.VoucherAuditLog
	for _, row := range failures() {
		if !seen[row.ID] {
			added = append(added, row)
		}
	}
	require.Len(t, added, 1)
	return added[0]
}
