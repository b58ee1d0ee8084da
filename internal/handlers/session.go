// internal/handlers/session.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/localdeals/voucher-core/internal/i18n"
	"github.com/localdeals/voucher-core/internal/middleware"
	"github.com/localdeals/voucher-core/internal/services"
	"github.com/localdeals/voucher-core/internal/utils"
)

type SessionHandler struct {
	sessionService *services.VendorSessionService
}

func NewSessionHandler(sessionService *services.VendorSessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// POST /vendor/sessions
func (h *SessionHandler) Open(c *gin.Context) {
	var req services.OpenSessionRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	result, err := h.sessionService.Open(c.Request.Context(), middleware.GetVendor(c), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}

// DELETE /vendor/sessions/current
func (h *SessionHandler) Revoke(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	identity := middleware.GetIdentity(c)
	if identity == nil {
		utils.ServiceErrorResponse(c, services.ErrUnauthenticated)
		return
	}

	token := c.GetHeader(middleware.VendorSessionHeader)
	if err := h.sessionService.Revoke(c.Request.Context(), identity.UserID, token); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySessionRevoked),
	})
}
