// internal/services/redemption_service_test.go
package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdeals/voucher-core/internal/models"
)

func TestRedeemVoucher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_redeem")
	session := env.openSession(t, v, "till-1")

	result, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{
		VoucherID:  voucher.ID.String(),
		LocationID: "till-1",
		Metadata:   map[string]interface{}{"note": "walk-in"},
	})
	require.NoError(t, err)
	assert.Equal(t, voucher.ID, result.VoucherID)
	assert.True(t, result.DealPrice.Equal(v.deal.DealPrice))

	var stored models.Voucher
	require.NoError(t, env.db.First(&stored, "id = ?", voucher.ID).Error)
	assert.Equal(t, models.VoucherStatusRedeemed, stored.Status)
	require.NotNil(t, stored.RedeemedAt)
	require.NotNil(t, stored.RedeemedByBusinessID)
	assert.Equal(t, v.business.ID, *stored.RedeemedByBusinessID)
	assert.Equal(t, "till-1", stored.RedeemedContext["location_id"])

	var redemption models.Redemption
	require.NoError(t, env.db.First(&redemption, "voucher_id = ?", voucher.ID).Error)
	assert.Equal(t, v.user.ID, redemption.VendorUserID)
	assert.Equal(t, "till-1", redemption.LocationID)
	assert.True(t, redemption.DealPrice.Equal(v.deal.DealPrice))
	assert.True(t, redemption.OriginalValue.Equal(v.deal.OriginalValue))

	var deal models.Deal
	require.NoError(t, env.db.First(&deal, "id = ?", v.deal.ID).Error)
	assert.NotNil(t, deal.LastActiveAt)

	entries, err := env.audit.ListForVoucher(ctx, voucher.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditActionIssued, entries[0].Action)
	assert.Equal(t, models.AuditActionRedeemed, entries[1].Action)
}

func TestRedeemByQRToken(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_qr")

	result, err := env.redemption.Redeem(context.Background(), env.openSession(t, v), &RedeemVoucherRequest{QRToken: voucher.QRToken})
	require.NoError(t, err)
	assert.Equal(t, voucher.ID, result.VoucherID)
}

func TestRedeemTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_twice")
	session := env.openSession(t, v)

	_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
	require.NoError(t, err)

	_, err = env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
	requireCode(t, err, CodeVoucherAlreadyRedeemed)

	assert.EqualValues(t, 1, count(t, env.db, &models.Redemption{}))

	var failures []models.VoucherAuditLog
	require.NoError(t, env.db.Where("voucher_id = ? AND action = ?", voucher.ID, models.AuditActionRedemptionFailed).Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, CodeVoucherAlreadyRedeemed, failures[0].Reason)
}

func TestRedeemConcurrentExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_race")

	const workers = 10
	sessions := make([]*VendorSessionContext, workers)
	for i := range sessions {
		sessions[i] = env.openSession(t, v)
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.redemption.Redeem(context.Background(), sessions[i], &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireCode(t, err, CodeVoucherAlreadyRedeemed)
	}
	assert.Equal(t, 1, successes)
	assert.EqualValues(t, 1, count(t, env.db, &models.Redemption{}))
}

func TestRedeemRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)

	t.Run("voucher of another business", func(t *testing.T) {
		other := env.newVendor(t)
		voucher := env.issue(t, other, "pi_foreign")
		session := env.openSession(t, v)

		failure := env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
			requireCode(t, err, CodeVendorNotOwner)
		})
		assert.Equal(t, CodeVendorNotOwner, failure.Reason)
		require.NotNil(t, failure.VoucherID)
		assert.Equal(t, voucher.ID, *failure.VoucherID)
		require.NotNil(t, failure.ActorID)
		assert.Equal(t, v.user.ID, *failure.ActorID)
		assert.Equal(t, session.SessionID.String(), failure.Metadata["session_id"])

		var stored models.Voucher
		require.NoError(t, env.db.First(&stored, "id = ?", voucher.ID).Error)
		assert.Equal(t, models.VoucherStatusIssued, stored.Status)
	})

	t.Run("expired voucher", func(t *testing.T) {
		voucher := env.issue(t, v, "pi_expired")
		session := env.openSession(t, v)

		later := NewRedemptionService(env.db, env.audit, nil, env.redemption.bounds)
		later.now = func() time.Time { return time.Now().UTC().Add(721 * time.Hour) }

		failure := env.failureRecorded(t, func() {
			_, err := later.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
			requireCode(t, err, CodeVoucherExpired)
		})
		assert.Equal(t, CodeVoucherExpired, failure.Reason)
		require.NotNil(t, failure.VoucherID)
		assert.Equal(t, voucher.ID, *failure.VoucherID)

		var stored models.Voucher
		require.NoError(t, env.db.First(&stored, "id = ?", voucher.ID).Error)
		assert.Equal(t, models.VoucherStatusIssued, stored.Status)
	})

	t.Run("location outside session", func(t *testing.T) {
		voucher := env.issue(t, v, "pi_location")
		session := env.openSession(t, v, "till-1")

		failure := env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: voucher.ID.String(), LocationID: "till-9"})
			requireCode(t, err, CodeLocationUnauthorized)
		})
		assert.Equal(t, CodeLocationUnauthorized, failure.Reason)
		assert.Equal(t, "till-9", failure.Metadata["location_id"])

		failure = env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
			requireCode(t, err, CodeLocationUnauthorized)
		})
		assert.Equal(t, CodeLocationUnauthorized, failure.Reason)
	})

	t.Run("unknown voucher", func(t *testing.T) {
		session := env.openSession(t, v)

		failure := env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: uuid.NewString()})
			requireCode(t, err, CodeVoucherNotFound)
		})
		assert.Equal(t, CodeVoucherNotFound, failure.Reason)
		assert.Nil(t, failure.VoucherID)
		assert.Equal(t, "voucher_id", failure.Metadata["lookup"])

		failure = env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{QRToken: "VCH-NOPE-AAAAAAAAAAAA"})
			requireCode(t, err, CodeVoucherNotFound)
		})
		assert.Equal(t, CodeVoucherNotFound, failure.Reason)
		assert.Equal(t, "qr_token", failure.Metadata["lookup"])
	})

	t.Run("no voucher reference", func(t *testing.T) {
		session := env.openSession(t, v)

		failure := env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{})
			requireCode(t, err, CodeValidation)
		})
		assert.Equal(t, CodeValidation, failure.Reason)
		assert.Nil(t, failure.VoucherID)
	})

	t.Run("malformed voucher id", func(t *testing.T) {
		session := env.openSession(t, v)

		failure := env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: "not-a-uuid"})
			requireCode(t, err, CodeValidation)
		})
		assert.Equal(t, CodeValidation, failure.Reason)
	})

	t.Run("suspended business", func(t *testing.T) {
		other := env.newVendor(t)
		voucher := env.issue(t, other, "pi_business_suspended")
		session := env.openSession(t, other)
		require.NoError(t, env.db.Model(&models.Business{}).Where("id = ?", other.business.ID).
			Update("status", models.BusinessStatusSuspended).Error)

		failure := env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, session, &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
			requireCode(t, err, CodeBusinessNotActive)
		})
		assert.Equal(t, CodeBusinessNotActive, failure.Reason)
		require.NotNil(t, failure.VoucherID)
		assert.Equal(t, voucher.ID, *failure.VoucherID)
	})

	t.Run("missing session", func(t *testing.T) {
		failure := env.failureRecorded(t, func() {
			_, err := env.redemption.Redeem(ctx, nil, &RedeemVoucherRequest{VoucherID: uuid.NewString()})
			requireCode(t, err, CodeInvalidSession)
		})
		assert.Equal(t, CodeInvalidSession, failure.Reason)
		assert.Nil(t, failure.ActorID)
		assert.Empty(t, failure.ActorRole)
		assert.NotContains(t, failure.Metadata, "session_id")
	})
}

func TestRejectRecordsRefusedAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)
	session := env.openSession(t, v)

	failure := env.failureRecorded(t, func() {
		err := env.redemption.Reject(ctx, nil, nil, ErrSuspended)
		requireCode(t, err, CodeSuspended)
	})
	assert.Equal(t, CodeSuspended, failure.Reason)
	assert.Nil(t, failure.ActorID)
	assert.Nil(t, failure.VoucherID)

	failure = env.failureRecorded(t, func() {
		err := env.redemption.Reject(ctx, session, nil, ErrValidation)
		requireCode(t, err, CodeValidation)
	})
	require.NotNil(t, failure.ActorID)
	assert.Equal(t, v.user.ID, *failure.ActorID)
	assert.Equal(t, models.RoleVendor.String(), failure.ActorRole)
}

func TestRedeemedVoucherIsImmutableInStorage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_terminal")

	_, err := env.redemption.Redeem(ctx, env.openSession(t, v), &RedeemVoucherRequest{VoucherID: voucher.ID.String()})
	require.NoError(t, err)

	err = env.db.Model(&models.Voucher{}).Where("id = ?", voucher.ID).Update("status", models.VoucherStatusIssued).Error
	assert.Error(t, err)

	err = env.db.Where("voucher_id = ?", voucher.ID).Delete(&models.Redemption{}).Error
	assert.Error(t, err)

	err = env.db.Where("voucher_id = ?", voucher.ID).Delete(&models.VoucherAuditLog{}).Error
	assert.Error(t, err)

	var stored models.Voucher
	require.NoError(t, env.db.First(&stored, "id = ?", voucher.ID).Error)
	assert.Equal(t, models.VoucherStatusRedeemed, stored.Status)
	assert.EqualValues(t, 1, count(t, env.db, &models.Redemption{}))
}

func TestRedeemedFieldsRequiredByStorage(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)
	voucher := env.issue(t, v, "pi_check")

	err := env.db.Model(&models.Voucher{}).Where("id = ?", voucher.ID).Update("status", models.VoucherStatusRedeemed).Error
	assert.Error(t, err)
}
