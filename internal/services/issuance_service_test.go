// internal/services/issuance_service_test.go
package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/testutil"
)

var qrTokenPattern = regexp.MustCompile(`^VCH-[0-9A-Z]+-[A-Z2-7]{12}$`)

type stubVerifier struct {
	err   error
	calls int
}

func (s *stubVerifier) VerifyPayment(ctx context.Context, externalRef string, expected decimal.Decimal) error {
	s.calls++
	return s.err
}

func TestIssueVoucher(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)
	account := testutil.CreateUser(t, env.db, models.RoleUser)

	before := time.Now().UTC()
	result, err := env.issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{
		ExternalRef: "pi_first_order",
		DealID:      v.deal.ID.String(),
		AccountID:   account.ID.String(),
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)

	voucher := result.Voucher
	assert.Equal(t, models.VoucherStatusIssued, voucher.Status)
	assert.Equal(t, v.deal.ID, voucher.DealID)
	assert.Equal(t, v.business.ID, voucher.BusinessID)
	require.NotNil(t, voucher.AccountID)
	assert.Equal(t, account.ID, *voucher.AccountID)
	assert.Regexp(t, qrTokenPattern, voucher.QRToken)
	assert.False(t, voucher.IssuedAt.Before(before.Add(-time.Second)))
	require.NotNil(t, voucher.ExpiresAt)
	assert.Equal(t, 720*time.Hour, voucher.ExpiresAt.Sub(voucher.IssuedAt))

	var validation models.VoucherValidation
	require.NoError(t, env.db.First(&validation, "id = ?", voucher.ValidationID).Error)
	assert.Equal(t, "pi_first_order", validation.ExternalRef)
	assert.Equal(t, v.business.ID, validation.BusinessID)
	assert.Equal(t, v.deal.ID, validation.DealID)

	entries, err := env.audit.ListForVoucher(context.Background(), voucher.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionIssued, entries[0].Action)
	assert.Equal(t, "VENDOR", entries[0].ActorRole)
}

func TestIssueVoucherIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)

	first := env.issue(t, v, "pi_replayed")

	result, err := env.issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{
		ExternalRef: "pi_replayed",
		DealID:      v.deal.ID.String(),
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, first.ID, result.Voucher.ID)
	assert.Equal(t, first.ValidationID, result.Voucher.ValidationID)
	assert.Equal(t, first.QRToken, result.Voucher.QRToken)

	assert.EqualValues(t, 1, count(t, env.db, &models.VoucherValidation{}))
	assert.EqualValues(t, 1, count(t, env.db, &models.Voucher{}))
}

func TestIssueVoucherReplayAfterDeactivation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("inactive deal", func(t *testing.T) {
		v := env.newVendor(t)
		first := env.issue(t, v, "pi_replay_inactive_deal")
		testutil.SetStatus(t, env.db, &models.Deal{}, v.deal.ID, string(models.DealStatusInactive))

		result, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{
			ExternalRef: "pi_replay_inactive_deal",
			DealID:      v.deal.ID.String(),
		})
		require.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, first.ID, result.Voucher.ID)
	})

	t.Run("suspended business", func(t *testing.T) {
		v := env.newVendor(t)
		first := env.issue(t, v, "pi_replay_suspended")
		testutil.SetStatus(t, env.db, &models.Business{}, v.business.ID, string(models.BusinessStatusSuspended))

		result, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{
			ExternalRef: "pi_replay_suspended",
			DealID:      v.deal.ID.String(),
		})
		require.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, first.ID, result.Voucher.ID)

		_, err = env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{
			ExternalRef: "pi_replay_suspended_new",
			DealID:      v.deal.ID.String(),
		})
		requireCode(t, err, CodeBusinessNotActive)
	})

	assert.EqualValues(t, 2, count(t, env.db, &models.Voucher{}))
}

func TestIssueVoucherConcurrentSameReference(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)

	const workers = 10
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := env.issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{
				ExternalRef: "pi_concurrent",
				DealID:      v.deal.ID.String(),
			})
			errs[i] = err
			if err == nil {
				ids[i] = result.Voucher.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.EqualValues(t, 1, count(t, env.db, &models.VoucherValidation{}))
	assert.EqualValues(t, 1, count(t, env.db, &models.Voucher{}))
}

func TestIssueVoucherReferenceBoundElsewhere(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)
	env.issue(t, v, "pi_shared")

	t.Run("other deal of the same business", func(t *testing.T) {
		otherDeal := testutil.CreateDeal(t, env.db, v.business, models.DealStatusActive)
		_, err := env.issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{
			ExternalRef: "pi_shared",
			DealID:      otherDeal.ID.String(),
		})
		requireCode(t, err, CodeValidationAlreadyExists)
	})

	t.Run("other business", func(t *testing.T) {
		other := env.newVendor(t)
		_, err := env.issuance.Issue(context.Background(), other.ctx, &IssueVoucherRequest{
			ExternalRef: "pi_shared",
			DealID:      other.deal.ID.String(),
		})
		requireCode(t, err, CodeValidationAlreadyExists)
	})

	assert.EqualValues(t, 1, count(t, env.db, &models.Voucher{}))
}

func TestIssueVoucherRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("inactive deal writes nothing", func(t *testing.T) {
		v := env.newVendor(t)
		testutil.SetStatus(t, env.db, &models.Deal{}, v.deal.ID, string(models.DealStatusInactive))

		_, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{ExternalRef: "pi_inactive", DealID: v.deal.ID.String()})
		requireCode(t, err, CodeDealNotActive)

		var n int64
		require.NoError(t, env.db.Model(&models.VoucherValidation{}).Where("external_ref = ?", "pi_inactive").Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("deal of another business", func(t *testing.T) {
		v := env.newVendor(t)
		other := env.newVendor(t)

		_, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{ExternalRef: "pi_foreign_deal", DealID: other.deal.ID.String()})
		requireCode(t, err, CodeDealNotFound)
	})

	t.Run("suspended business", func(t *testing.T) {
		v := env.newVendor(t)
		testutil.SetStatus(t, env.db, &models.Business{}, v.business.ID, string(models.BusinessStatusSuspended))

		_, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{ExternalRef: "pi_suspended", DealID: v.deal.ID.String()})
		requireCode(t, err, CodeBusinessNotActive)
	})

	t.Run("lapsed subscription", func(t *testing.T) {
		v := env.newVendor(t)
		require.NoError(t, env.db.Model(&models.Business{}).Where("id = ?", v.business.ID).
			Update("subscription_status", models.SubscriptionStatusCanceled).Error)

		_, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{ExternalRef: "pi_lapsed", DealID: v.deal.ID.String()})
		requireCode(t, err, CodeForbidden)
	})

	t.Run("non-vendor caller", func(t *testing.T) {
		v := env.newVendor(t)
		caller := *v.ctx
		caller.Role = models.RoleUser

		_, err := env.issuance.Issue(ctx, &caller, &IssueVoucherRequest{ExternalRef: "pi_user", DealID: v.deal.ID.String()})
		requireCode(t, err, CodeForbidden)
	})

	t.Run("malformed input", func(t *testing.T) {
		v := env.newVendor(t)

		_, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{ExternalRef: "has spaces", DealID: v.deal.ID.String()})
		requireCode(t, err, CodeValidation)

		_, err = env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{ExternalRef: "pi_ok", DealID: "not-a-uuid"})
		requireCode(t, err, CodeValidation)
	})

	t.Run("unknown account rolls back both rows", func(t *testing.T) {
		v := env.newVendor(t)

		_, err := env.issuance.Issue(ctx, v.ctx, &IssueVoucherRequest{
			ExternalRef: "pi_orphan_account",
			DealID:      v.deal.ID.String(),
			AccountID:   uuid.NewString(),
		})
		requireCode(t, err, CodeForeignKeyViolation)

		var n int64
		require.NoError(t, env.db.Model(&models.VoucherValidation{}).Where("external_ref = ?", "pi_orphan_account").Count(&n).Error)
		assert.Zero(t, n)
	})
}

func TestIssueVoucherPaymentVerification(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)

	verifier := &stubVerifier{err: ErrPaymentNotVerified}
	issuance := NewIssuanceService(env.db, env.gate, env.audit, verifier, nil, testutil.Bounds, testPolicy)

	_, err := issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{ExternalRef: "pi_unpaid", DealID: v.deal.ID.String()})
	requireCode(t, err, CodePaymentNotVerified)
	assert.Equal(t, 1, verifier.calls)
	assert.Zero(t, count(t, env.db, &models.Voucher{}))

	verifier.err = nil
	result, err := issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{ExternalRef: "pi_paid", DealID: v.deal.ID.String()})
	require.NoError(t, err)
	assert.False(t, result.Replayed)

	// Replays never reach the payment provider.
	_, err = issuance.Issue(context.Background(), v.ctx, &IssueVoucherRequest{ExternalRef: "pi_paid", DealID: v.deal.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, 2, verifier.calls)
}

func TestVoucherTTL(t *testing.T) {
	service := &IssuanceService{policy: testPolicy}

	assert.Equal(t, 720*time.Hour, service.voucherTTL(&models.Deal{}))
	assert.Equal(t, 48*time.Hour, service.voucherTTL(&models.Deal{VoucherTTLHours: 48}))
	assert.Equal(t, 2160*time.Hour, service.voucherTTL(&models.Deal{VoucherTTLHours: 10000}))
}

func TestQRTokensAreUnique(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)

	seen := make(map[string]bool)
	for i := 0; i < 25; i++ {
		voucher := env.issue(t, v, "pi_unique_"+uuid.NewString())
		assert.Regexp(t, qrTokenPattern, voucher.QRToken)
		assert.False(t, seen[voucher.QRToken])
		seen[voucher.QRToken] = true
	}
}

func TestOrphanVoucherRejectedByStorage(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)

	err := env.db.Create(&models.Voucher{
		ValidationID: uuid.New(),
		DealID:       v.deal.ID,
		BusinessID:   v.business.ID,
		QRToken:      "VCH-ORPHAN-AAAAAAAAAAAA",
		Status:       models.VoucherStatusIssued,
		IssuedAt:     time.Now().UTC(),
	}).Error
	require.Error(t, err)
	assert.Equal(t, dbErrForeignKey, classifyDBError(err))
}

func TestDuplicateValidationRejectedByStorage(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)
	env.issue(t, v, "pi_unique_anchor")

	err := env.db.Create(&models.VoucherValidation{
		BusinessID:  v.business.ID,
		DealID:      v.deal.ID,
		ExternalRef: "pi_unique_anchor",
	}).Error
	require.Error(t, err)
	assert.Equal(t, dbErrUnique, classifyDBError(err))
}
