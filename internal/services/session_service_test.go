// internal/services/session_service_test.go
package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/testutil"
	"github.com/localdeals/voucher-core/internal/utils"
)

func TestVendorSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)

	opened, err := env.sessions.Open(ctx, v.ctx, &OpenSessionRequest{LocationIDs: []string{"front-desk"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(opened.SessionToken, "vs_"))
	assert.Equal(t, []string{v.business.ID.String()}, opened.BusinessIDs)
	assert.Equal(t, []string{"front-desk"}, opened.LocationIDs)

	// Only the hash is stored.
	var stored models.VendorSession
	require.NoError(t, env.db.First(&stored, "vendor_user_id = ?", v.user.ID).Error)
	assert.Equal(t, utils.HashString(opened.SessionToken), stored.TokenHash)
	assert.NotEqual(t, opened.SessionToken, stored.TokenHash)

	session, err := env.sessions.Resolve(ctx, opened.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, v.user.ID, session.VendorUserID)
	assert.True(t, session.AuthorizedBusiness(v.business.ID))
	assert.False(t, session.AuthorizedBusiness(uuid.New()))
	assert.True(t, session.AuthorizedLocation("front-desk"))
	assert.False(t, session.AuthorizedLocation("back-door"))
	assert.False(t, session.AuthorizedLocation(""))

	// Another vendor cannot revoke it.
	other := env.newVendor(t)
	requireCode(t, env.sessions.Revoke(ctx, other.user.ID, opened.SessionToken), CodeInvalidSession)

	require.NoError(t, env.sessions.Revoke(ctx, v.user.ID, opened.SessionToken))
	_, err = env.sessions.Resolve(ctx, opened.SessionToken)
	requireCode(t, err, CodeInvalidSession)

	requireCode(t, env.sessions.Revoke(ctx, v.user.ID, opened.SessionToken), CodeInvalidSession)
}

func TestVendorSessionWithoutLocations(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVendor(t)

	session := env.openSession(t, v)
	assert.Empty(t, session.LocationIDs)
	assert.True(t, session.AuthorizedLocation(""))
	assert.True(t, session.AuthorizedLocation("anywhere"))
}

func TestVendorSessionRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVendor(t)

	t.Run("unknown token", func(t *testing.T) {
		_, err := env.sessions.Resolve(ctx, "vs_unknown")
		requireCode(t, err, CodeInvalidSession)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := env.sessions.Resolve(ctx, "")
		requireCode(t, err, CodeInvalidSession)
	})

	t.Run("expired", func(t *testing.T) {
		opened, err := env.sessions.Open(ctx, v.ctx, &OpenSessionRequest{})
		require.NoError(t, err)

		later := NewVendorSessionService(env.db, 12)
		later.now = func() time.Time { return time.Now().UTC().Add(13 * time.Hour) }
		_, err = later.Resolve(ctx, opened.SessionToken)
		requireCode(t, err, CodeInvalidSession)
	})

	t.Run("suspended vendor", func(t *testing.T) {
		suspended := env.newVendor(t)
		opened, err := env.sessions.Open(ctx, suspended.ctx, &OpenSessionRequest{})
		require.NoError(t, err)

		testutil.SetStatus(t, env.db, &models.User{}, suspended.user.ID, string(models.UserStatusSuspended))
		_, err = env.sessions.Resolve(ctx, opened.SessionToken)
		requireCode(t, err, CodeSuspended)
	})

	t.Run("invalid location list", func(t *testing.T) {
		_, err := env.sessions.Open(ctx, v.ctx, &OpenSessionRequest{LocationIDs: []string{""}})
		requireCode(t, err, CodeValidation)
	})
}
