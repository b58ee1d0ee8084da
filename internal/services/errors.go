// internal/services/errors.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error codes returned to callers.
const (
	CodeUnauthenticated         = "UNAUTHENTICATED"
	CodeSuspended               = "SUSPENDED"
	CodeForbidden               = "FORBIDDEN"
	CodeBusinessNotActive       = "BUSINESS_NOT_ACTIVE"
	CodeDealNotActive           = "DEAL_NOT_ACTIVE"
	CodeDealNotFound            = "DEAL_NOT_FOUND"
	CodeValidationAlreadyExists = "VALIDATION_ALREADY_EXISTS"
	CodeForeignKeyViolation     = "FOREIGN_KEY_VIOLATION"
	CodeSerializationConflict   = "SERIALIZATION_CONFLICT"
	CodePaymentNotVerified      = "PAYMENT_NOT_VERIFIED"
	CodeVoucherNotFound         = "VOUCHER_NOT_FOUND"
	CodeVoucherAlreadyRedeemed  = "VOUCHER_ALREADY_REDEEMED"
	CodeVoucherExpired          = "VOUCHER_EXPIRED"
	CodeVoucherNotIssued        = "VOUCHER_NOT_ISSUED"
	CodeVendorNotOwner          = "VENDOR_NOT_OWNER"
	CodeLocationUnauthorized    = "LOCATION_UNAUTHORIZED"
	CodeInvalidSession          = "INVALID_SESSION"
	CodeValidation              = "VALIDATION_ERROR"
	CodeAlreadyBound            = "ALREADY_BOUND"
	CodeEmailTaken              = "EMAIL_TAKEN"
	CodeInvalidTarget           = "INVALID_TARGET"
	CodeNotFound                = "NOT_FOUND"
	CodeArchiveUnavailable      = "ARCHIVE_UNAVAILABLE"
	CodeInternal                = "INTERNAL"
)

// ServiceError is the typed failure every service operation returns. Two
// ServiceErrors match under errors.Is when their codes match.
type ServiceError struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code
}

func (e *ServiceError) ErrorCode() string {
	return e.Code
}

func (e *ServiceError) HTTPStatus() int {
	return e.Status
}

// Wrap returns a copy of e carrying cause.
func (e *ServiceError) Wrap(cause error) *ServiceError {
	return &ServiceError{Code: e.Code, Status: e.Status, Message: e.Message, Err: cause}
}

// WithMessage returns a copy of e with a more specific message.
func (e *ServiceError) WithMessage(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: e.Code, Status: e.Status, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

var (
	// Authentication and authorization
	ErrUnauthenticated = &ServiceError{Code: CodeUnauthenticated, Status: http.StatusUnauthorized, Message: "authentication required"}
	ErrSuspended       = &ServiceError{Code: CodeSuspended, Status: http.StatusForbidden, Message: "identity is suspended"}
	ErrForbidden       = &ServiceError{Code: CodeForbidden, Status: http.StatusForbidden, Message: "access denied"}
	ErrInvalidSession  = &ServiceError{Code: CodeInvalidSession, Status: http.StatusUnauthorized, Message: "vendor session is invalid or expired"}

	// Business and deal state
	ErrBusinessNotActive = &ServiceError{Code: CodeBusinessNotActive, Status: http.StatusConflict, Message: "business is not active"}
	ErrDealNotActive     = &ServiceError{Code: CodeDealNotActive, Status: http.StatusConflict, Message: "deal is not active"}
	ErrDealNotFound      = &ServiceError{Code: CodeDealNotFound, Status: http.StatusNotFound, Message: "deal not found"}

	// Issuance
	ErrValidationAlreadyExists = &ServiceError{Code: CodeValidationAlreadyExists, Status: http.StatusConflict, Message: "external reference already used"}
	ErrForeignKeyViolation     = &ServiceError{Code: CodeForeignKeyViolation, Status: http.StatusConflict, Message: "invalid business, deal or account reference"}
	ErrSerializationConflict   = &ServiceError{Code: CodeSerializationConflict, Status: http.StatusConflict, Message: "concurrent update, retry the request"}
	ErrPaymentNotVerified      = &ServiceError{Code: CodePaymentNotVerified, Status: http.StatusPaymentRequired, Message: "payment not verified"}

	// Redemption
	ErrVoucherNotFound        = &ServiceError{Code: CodeVoucherNotFound, Status: http.StatusNotFound, Message: "voucher not found"}
	ErrVoucherAlreadyRedeemed = &ServiceError{Code: CodeVoucherAlreadyRedeemed, Status: http.StatusConflict, Message: "voucher already redeemed"}
	ErrVoucherExpired         = &ServiceError{Code: CodeVoucherExpired, Status: http.StatusGone, Message: "voucher expired"}
	ErrVoucherNotIssued       = &ServiceError{Code: CodeVoucherNotIssued, Status: http.StatusConflict, Message: "voucher is not redeemable"}
	ErrVendorNotOwner         = &ServiceError{Code: CodeVendorNotOwner, Status: http.StatusForbidden, Message: "voucher belongs to another business"}
	ErrLocationUnauthorized   = &ServiceError{Code: CodeLocationUnauthorized, Status: http.StatusForbidden, Message: "location not authorized for session"}

	// Administration
	ErrValidation         = &ServiceError{Code: CodeValidation, Status: http.StatusBadRequest, Message: "invalid input"}
	ErrAlreadyBound       = &ServiceError{Code: CodeAlreadyBound, Status: http.StatusConflict, Message: "vendor or business already bound"}
	ErrEmailTaken         = &ServiceError{Code: CodeEmailTaken, Status: http.StatusConflict, Message: "email already registered"}
	ErrInvalidTarget      = &ServiceError{Code: CodeInvalidTarget, Status: http.StatusBadRequest, Message: "target identity cannot be bound"}
	ErrNotFound           = &ServiceError{Code: CodeNotFound, Status: http.StatusNotFound, Message: "resource not found"}
	ErrArchiveUnavailable = &ServiceError{Code: CodeArchiveUnavailable, Status: http.StatusServiceUnavailable, Message: "audit archive not configured"}

	ErrInternal = &ServiceError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error"}
)

// dbErrorKind is what a storage failure means for control flow.
type dbErrorKind int

const (
	dbErrOther dbErrorKind = iota
	dbErrNotFound
	dbErrUnique
	dbErrForeignKey
	dbErrConflict
)

// classifyDBError maps gorm translated errors, Postgres SQLSTATEs and sqlite
// messages onto a small set of kinds.
func classifyDBError(err error) dbErrorKind {
	if err == nil {
		return dbErrOther
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return dbErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return dbErrUnique
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return dbErrForeignKey
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dbErrConflict
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return dbErrUnique
		case "23503":
			return dbErrForeignKey
		case "40001", "40P01", "55P03", "57014":
			// serialization failure, deadlock, lock timeout, statement timeout
			return dbErrConflict
		}
		return dbErrOther
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "duplicate key value violates unique constraint"):
		return dbErrUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "violates foreign key constraint"):
		return dbErrForeignKey
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return dbErrConflict
	}

	return dbErrOther
}

func isUniqueViolation(err error) bool {
	return classifyDBError(err) == dbErrUnique
}

func isNotFound(err error) bool {
	return classifyDBError(err) == dbErrNotFound
}
