// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthTokenExpired       = "auth.token_expired"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthUserExists         = "auth.user_exists"

	// Vendor sessions
	KeySessionOpened  = "session.opened"
	KeySessionRevoked = "session.revoked"

	// Vouchers
	KeyVoucherIssued        = "voucher.issued"
	KeyVoucherAlreadyExists = "voucher.already_exists"
	KeyVoucherRedeemed      = "voucher.redeemed"
	KeyVoucherNotFound      = "voucher.not_found"

	// Admin
	KeyAdminActionSuccess = "admin.action_success"
	KeyAdminVendorBound   = "admin.vendor_bound"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Rate limiting
	KeyRateLimited = "rate_limit.exceeded"
)
