// internal/middleware/auth.go
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/services"
	"github.com/localdeals/voucher-core/internal/utils"
)

// Context keys set by the auth middlewares.
const (
	ContextIdentity      = "identity"
	ContextVendor        = "vendor"
	ContextVendorSession = "vendor_session"

	VendorSessionHeader = "X-Vendor-Session"
)

// AuthRequired resolves the bearer token to an active identity.
func AuthRequired(identityService *services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.ServiceErrorResponse(c, services.ErrUnauthenticated)
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.ServiceErrorResponse(c, services.ErrUnauthenticated)
			c.Abort()
			return
		}

		identity, err := identityService.AuthenticateIdentity(c.Request.Context(), parts[1])
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			c.Abort()
			return
		}

		// Set user info in context
		c.Set(ContextIdentity, identity)
		c.Set("user_id", identity.UserID.String())
		c.Set("user_role", identity.Role.String())
		c.Next()
	}
}

// RolesRequired admits only the listed roles. It must run after AuthRequired.
func RolesRequired(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := services.Authorize(GetIdentity(c), roles...); err != nil {
			utils.ServiceErrorResponse(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func AdminRequired() gin.HandlerFunc {
	return RolesRequired(models.RoleAdmin)
}

// VendorBindingRequired resolves the business bound to the authenticated vendor.
func VendorBindingRequired(identityService *services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		vendor, err := identityService.VendorBinding(c.Request.Context(), GetIdentity(c))
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			c.Abort()
			return
		}

		c.Set(ContextVendor, vendor)
		c.Next()
	}
}

// SessionRejectRecorder records calls turned away for want of a usable
// vendor session.
type SessionRejectRecorder interface {
	Reject(ctx context.Context, session *services.VendorSessionContext, req *services.RedeemVoucherRequest, cause error) error
}

// VendorSessionRequired authenticates redemption calls by operational session.
// Rejections are handed to recorder when it is not nil.
func VendorSessionRequired(sessionService *services.VendorSessionService, recorder SessionRejectRecorder) gin.HandlerFunc {
	reject := func(c *gin.Context, err error) {
		if recorder != nil {
			err = recorder.Reject(c.Request.Context(), nil, nil, err)
		}
		utils.ServiceErrorResponse(c, err)
		c.Abort()
	}

	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(VendorSessionHeader))
		if token == "" {
			reject(c, services.ErrInvalidSession)
			return
		}

		session, err := sessionService.Resolve(c.Request.Context(), token)
		if err != nil {
			reject(c, err)
			return
		}

		c.Set(ContextVendorSession, session)
		c.Set("user_id", session.VendorUserID.String())
		c.Set("user_role", models.RoleVendor.String())
		c.Next()
	}
}

func GetIdentity(c *gin.Context) *services.IdentityContext {
	if v, exists := c.Get(ContextIdentity); exists {
		if identity, ok := v.(*services.IdentityContext); ok {
			return identity
		}
	}
	return nil
}

func GetVendor(c *gin.Context) *services.VendorContext {
	if v, exists := c.Get(ContextVendor); exists {
		if vendor, ok := v.(*services.VendorContext); ok {
			return vendor
		}
	}
	return nil
}

func GetVendorSession(c *gin.Context) *services.VendorSessionContext {
	if v, exists := c.Get(ContextVendorSession); exists {
		if session, ok := v.(*services.VendorSessionContext); ok {
			return session
		}
	}
	return nil
}
