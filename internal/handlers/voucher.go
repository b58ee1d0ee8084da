// internal/handlers/voucher.go
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/localdeals/voucher-core/internal/i18n"
	"github.com/localdeals/voucher-core/internal/middleware"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/services"
	"github.com/localdeals/voucher-core/internal/utils"
)

type VoucherHandler struct {
	issuanceService   *services.IssuanceService
	redemptionService *services.RedemptionService
}

// IssuedVoucher is the issuance response body.
type IssuedVoucher struct {
	VoucherID    uuid.UUID            `json:"voucher_id"`
	ValidationID uuid.UUID            `json:"validation_id"`
	QRToken      string               `json:"qr_token"`
	Status       models.VoucherStatus `json:"status"`
	IssuedAt     time.Time            `json:"issued_at"`
	ExpiresAt    *time.Time           `json:"expires_at"`
	Replayed     bool                 `json:"replayed"`
	Message      string               `json:"message"`
}

func NewVoucherHandler(issuanceService *services.IssuanceService, redemptionService *services.RedemptionService) *VoucherHandler {
	return &VoucherHandler{
		issuanceService:   issuanceService,
		redemptionService: redemptionService,
	}
}

// POST /vouchers/issue
func (h *VoucherHandler) Issue(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.IssueVoucherRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.issuanceService.Issue(c.Request.Context(), middleware.GetVendor(c), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	voucher := result.Voucher
	body := IssuedVoucher{
		VoucherID:    voucher.ID,
		ValidationID: voucher.ValidationID,
		QRToken:      voucher.QRToken,
		Status:       voucher.Status,
		IssuedAt:     voucher.IssuedAt,
		ExpiresAt:    voucher.ExpiresAt,
		Replayed:     result.Replayed,
	}

	if result.Replayed {
		body.Message = i18n.T(lang, i18n.KeyVoucherAlreadyExists)
		c.JSON(http.StatusOK, utils.APIResponse{Success: true, Data: body})
		return
	}

	body.Message = i18n.T(lang, i18n.KeyVoucherIssued)
	utils.CreatedResponse(c, body)
}

// POST /redeem
func (h *VoucherHandler) Redeem(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	session := middleware.GetVendorSession(c)

	// Field validation happens in the service so refused attempts are audited.
	var req services.RedeemVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		err = h.redemptionService.Reject(c.Request.Context(), session, nil, services.ErrValidation.Wrap(err))
		utils.ServiceErrorResponse(c, err)
		return
	}

	result, err := h.redemptionService.Redeem(c.Request.Context(), session, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyVoucherRedeemed),
		"voucher_id":  result.VoucherID,
		"deal_price":  result.DealPrice,
		"redeemed_at": result.RedeemedAt,
	})
}
