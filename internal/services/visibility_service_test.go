// internal/services/visibility_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/testutil"
	"github.com/localdeals/voucher-core/internal/utils"
)

var firstPage = utils.PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}

func TestVisibilityScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := testutil.CreateUser(t, env.db, models.RoleUser)
	stranger := testutil.CreateUser(t, env.db, models.RoleUser)
	admin := testutil.CreateUser(t, env.db, models.RoleAdmin)

	a := env.newVendor(t)
	b := env.newVendor(t)

	owned, err := env.issuance.Issue(ctx, a.ctx, &IssueVoucherRequest{
		ExternalRef: "pi_owned",
		DealID:      a.deal.ID.String(),
		AccountID:   account.ID.String(),
	})
	require.NoError(t, err)
	env.issue(t, a, "pi_a_anonymous")
	fromB := env.issue(t, b, "pi_b")

	_, err = env.redemption.Redeem(ctx, env.openSession(t, b), &RedeemVoucherRequest{VoucherID: fromB.ID.String()})
	require.NoError(t, err)

	viewerOf := func(user *models.User) *Viewer {
		viewer, err := env.identity.ViewerFor(ctx, identityOf(user))
		require.NoError(t, err)
		return viewer
	}

	t.Run("user sees own vouchers", func(t *testing.T) {
		vouchers, total, err := env.visibility.ListVouchers(ctx, viewerOf(account), VoucherFilter{PaginationParams: firstPage})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, vouchers, 1)
		assert.Equal(t, owned.Voucher.ID, vouchers[0].ID)
		assert.False(t, vouchers[0].IsExpired)

		vouchers, total, err = env.visibility.ListVouchers(ctx, viewerOf(stranger), VoucherFilter{PaginationParams: firstPage})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, vouchers)
	})

	t.Run("vendor sees own business", func(t *testing.T) {
		vouchers, total, err := env.visibility.ListVouchers(ctx, viewerOf(a.user), VoucherFilter{PaginationParams: firstPage})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		for _, voucher := range vouchers {
			assert.Equal(t, a.business.ID, voucher.BusinessID)
		}

		redemptions, total, err := env.visibility.ListRedemptions(ctx, viewerOf(a.user), VoucherFilter{PaginationParams: firstPage})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, redemptions)

		redemptions, total, err = env.visibility.ListRedemptions(ctx, viewerOf(b.user), VoucherFilter{PaginationParams: firstPage})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, redemptions, 1)
		assert.Equal(t, fromB.ID, redemptions[0].VoucherID)
	})

	t.Run("admin sees everything and filters", func(t *testing.T) {
		_, total, err := env.visibility.ListVouchers(ctx, viewerOf(admin), VoucherFilter{PaginationParams: firstPage})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)

		filter := VoucherFilter{PaginationParams: firstPage, BusinessID: &b.business.ID}
		_, total, err = env.visibility.ListVouchers(ctx, viewerOf(admin), filter)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)

		filter = VoucherFilter{PaginationParams: firstPage}
		filter.Status = string(models.VoucherStatusRedeemed)
		vouchers, total, err := env.visibility.ListVouchers(ctx, viewerOf(admin), filter)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, vouchers, 1)
		assert.Equal(t, fromB.ID, vouchers[0].ID)

		_, total, err = env.visibility.ListRedemptions(ctx, viewerOf(admin), VoucherFilter{PaginationParams: firstPage})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
	})

	t.Run("users have no redemption listing", func(t *testing.T) {
		_, _, err := env.visibility.ListRedemptions(ctx, viewerOf(account), VoucherFilter{PaginationParams: firstPage})
		requireCode(t, err, CodeForbidden)
	})

	t.Run("single voucher hides existence from others", func(t *testing.T) {
		_, err := env.visibility.GetVoucher(ctx, viewerOf(account), owned.Voucher.ID)
		require.NoError(t, err)
		_, err = env.visibility.GetVoucher(ctx, viewerOf(a.user), owned.Voucher.ID)
		require.NoError(t, err)
		_, err = env.visibility.GetVoucher(ctx, viewerOf(admin), owned.Voucher.ID)
		require.NoError(t, err)

		_, err = env.visibility.GetVoucher(ctx, viewerOf(stranger), owned.Voucher.ID)
		requireCode(t, err, CodeVoucherNotFound)
		_, err = env.visibility.GetVoucher(ctx, viewerOf(b.user), owned.Voucher.ID)
		requireCode(t, err, CodeVoucherNotFound)
		_, err = env.visibility.GetVoucher(ctx, viewerOf(admin), uuid.New())
		requireCode(t, err, CodeVoucherNotFound)
	})
}

func TestRedemptionHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_history")
	viewer := &Viewer{UserID: v.user.ID, Role: models.RoleVendor, BusinessID: &v.business.ID}

	history, err := env.visibility.GetRedemptionHistory(ctx, viewer, voucher.ID)
	require.NoError(t, err)
	assert.Nil(t, history.Redemption)
	require.Len(t, history.Events, 1)

	_, err = env.redemption.Redeem(ctx, env.openSession(t, v), &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
	require.NoError(t, err)

	history, err = env.visibility.GetRedemptionHistory(ctx, viewer, voucher.ID)
	require.NoError(t, err)
	require.NotNil(t, history.Redemption)
	assert.Equal(t, models.VoucherStatusRedeemed, history.Voucher.Status)
	require.Len(t, history.Events, 2)
	assert.Equal(t, models.AuditActionRedeemed, history.Events[1].Action)
}

func TestExpiryIsDerivedAtReadTime(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_derived")
	viewer := &Viewer{UserID: v.user.ID, Role: models.RoleVendor, BusinessID: &v.business.ID}

	env.visibility.now = func() time.Time { return time.Now().UTC().Add(721 * time.Hour) }

	view, err := env.visibility.GetVoucher(context.Background(), viewer, voucher.ID)
	require.NoError(t, err)
	assert.True(t, view.IsExpired)
	assert.Equal(t, models.VoucherStatusIssued, view.Status)
}
