// internal/handlers/visibility.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/localdeals/voucher-core/internal/middleware"
	"github.com/localdeals/voucher-core/internal/services"
	"github.com/localdeals/voucher-core/internal/utils"
)

// VisibilityHandler serves the read-only voucher views. What a caller sees
// is decided by the service from the caller's role.
type VisibilityHandler struct {
	identityService   *services.IdentityService
	visibilityService *services.VisibilityService
}

func NewVisibilityHandler(identityService *services.IdentityService, visibilityService *services.VisibilityService) *VisibilityHandler {
	return &VisibilityHandler{
		identityService:   identityService,
		visibilityService: visibilityService,
	}
}

// GET /me/vouchers, /vendor/vouchers, /admin/vouchers
func (h *VisibilityHandler) ListVouchers(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	filter, ok := voucherFilter(c)
	if !ok {
		return
	}

	vouchers, total, err := h.visibilityService.ListVouchers(c.Request.Context(), viewer, filter)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(vouchers, total, filter.PaginationParams))
}

// GET /vendor/redemptions, /admin/redemptions
func (h *VisibilityHandler) ListRedemptions(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	filter, ok := voucherFilter(c)
	if !ok {
		return
	}

	redemptions, total, err := h.visibilityService.ListRedemptions(c.Request.Context(), viewer, filter)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(redemptions, total, filter.PaginationParams))
}

// GET /vouchers/:id
func (h *VisibilityHandler) GetVoucher(c *gin.Context) {
	voucherID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	voucher, err := h.visibilityService.GetVoucher(c.Request.Context(), viewer, voucherID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, voucher)
}

// GET /vouchers/:id/redemption-history
func (h *VisibilityHandler) GetRedemptionHistory(c *gin.Context) {
	voucherID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	history, err := h.visibilityService.GetRedemptionHistory(c.Request.Context(), viewer, voucherID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, history)
}

func (h *VisibilityHandler) viewer(c *gin.Context) (*services.Viewer, bool) {
	identity := middleware.GetIdentity(c)
	if identity == nil {
		utils.ServiceErrorResponse(c, services.ErrUnauthenticated)
		return nil, false
	}

	viewer, err := h.identityService.ViewerFor(c.Request.Context(), identity)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return nil, false
	}
	return viewer, true
}

func voucherFilter(c *gin.Context) (services.VoucherFilter, bool) {
	filter := services.VoucherFilter{PaginationParams: utils.GetPaginationParams(c)}

	var ok bool
	if filter.BusinessID, ok = parseIDQuery(c, "business_id"); !ok {
		return filter, false
	}
	if filter.DealID, ok = parseIDQuery(c, "deal_id"); !ok {
		return filter, false
	}
	if filter.AccountID, ok = parseIDQuery(c, "account_id"); !ok {
		return filter, false
	}
	return filter, true
}
