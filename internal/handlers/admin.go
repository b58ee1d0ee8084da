// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/localdeals/voucher-core/internal/i18n"
	"github.com/localdeals/voucher-core/internal/middleware"
	"github.com/localdeals/voucher-core/internal/services"
	"github.com/localdeals/voucher-core/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
	auditService *services.AuditService
}

func NewAdminHandler(adminService *services.AdminService, auditService *services.AuditService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		auditService: auditService,
	}
}

// POST /admin/vendors/:id/business
func (h *AdminHandler) BindVendor(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	vendorID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.BindVendorRequest
	if !bindJSON(c, &req) {
		return
	}

	business, err := h.adminService.BindVendor(c.Request.Context(), middleware.GetIdentity(c), vendorID, &req, requestMeta(c))
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyAdminVendorBound),
		"business": business,
	})
}

// PUT /admin/users/:id/status
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateUserStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.adminService.UpdateUserStatus(c.Request.Context(), middleware.GetIdentity(c), userID, &req, requestMeta(c))
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAdminActionSuccess),
		"user":    user,
	})
}

// PUT /admin/businesses/:id/status
func (h *AdminHandler) UpdateBusinessStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	businessID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateBusinessStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	business, err := h.adminService.UpdateBusinessStatus(c.Request.Context(), middleware.GetIdentity(c), businessID, &req, requestMeta(c))
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyAdminActionSuccess),
		"business": business,
	})
}

// PUT /admin/deals/:id/status
func (h *AdminHandler) UpdateDealStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	dealID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateDealStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	deal, err := h.adminService.UpdateDealStatus(c.Request.Context(), middleware.GetIdentity(c), dealID, &req, requestMeta(c))
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAdminActionSuccess),
		"deal":    deal,
	})
}

// POST /admin/vouchers/:id/audit/export
func (h *AdminHandler) ExportAudit(c *gin.Context) {
	voucherID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.auditService.Export(c.Request.Context(), middleware.GetIdentity(c), voucherID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}

// GET /admin/audit-logs
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	filter := services.AdminAuditFilter{
		PaginationParams: utils.GetPaginationParams(c),
		ResourceType:     c.Query("resource_type"),
	}

	var ok bool
	if filter.ResourceID, ok = parseIDQuery(c, "resource_id"); !ok {
		return
	}

	logs, total, err := h.adminService.GetAuditLogs(c.Request.Context(), middleware.GetIdentity(c), filter)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(logs, total, filter.PaginationParams))
}
