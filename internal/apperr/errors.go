package apperr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindConflict
	KindInsufficientStock
	KindValidation
	KindDataIntegrity
	// KindAborted marks a transaction the database rolled back to break a lock cycle; retrying is safe.
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindConflict:
		return "CONFLICT"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindDataIntegrity:
		return "DATA_INTEGRITY"
	case KindAborted:
		return "ABORTED"
	default:
		return "INTERNAL"
	}
}

// Machine-readable codes surfaced to API clients.
const (
	CodeInternal             = "INTERNAL_ERROR"
	CodeValidation           = "VALIDATION_ERROR"
	CodeProductUnavailable   = "PRODUCT_UNAVAILABLE"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeEmptyCart            = "EMPTY_CART"
	CodeCartNotFound         = "CART_NOT_FOUND"
	CodeCartItemNotFound     = "CART_ITEM_NOT_FOUND"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodeInvalidOrderState    = "INVALID_ORDER_STATE"
	CodeShopNotFound         = "SHOP_NOT_FOUND"
	CodeProductNotFound      = "PRODUCT_NOT_FOUND"
	CodePromotionNotFound    = "PROMOTION_NOT_FOUND"
	CodeBoxNotFound          = "BOX_NOT_FOUND"
	CodeDuplicateBoxNumber   = "DUPLICATE_BOX_NUMBER"
	CodeBoxOccupied          = "BOX_OCCUPIED"
	CodeBoxHasHistory        = "BOX_HAS_HISTORY"
	CodeShopAlreadyHasBox    = "SHOP_ALREADY_HAS_BOX"
	CodeNewShopNotFound      = "NEW_SHOP_NOT_FOUND"
	CodeNewShopAlreadyHasBox = "NEW_SHOP_ALREADY_HAS_BOX"
	CodeBoxAlreadyFree       = "BOX_ALREADY_FREE"
	CodeBoxFree              = "BOX_FREE"
	CodeNoShopFound          = "NO_SHOP_FOUND"
	CodeNoOpenHistory        = "NO_OPEN_HISTORY"
	CodePaymentNotFound      = "PAYMENT_NOT_FOUND"
	CodeNoBoxAssigned        = "NO_BOX_ASSIGNED"
	CodeTransactionAborted   = "TRANSACTION_ABORTED"
)

// Postgres SQLSTATEs for transactions aborted by the server.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Available is set on INSUFFICIENT_STOCK so callers can offer a smaller quantity.
	Available *int32
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GRPCStatus lets status.FromError and status.Code understand domain errors.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(grpcCode(e.Kind), e.Message)
}

func grpcCode(k Kind) codes.Code {
	switch k {
	case KindNotFound:
		return codes.NotFound
	case KindInvalidState, KindInsufficientStock:
		return codes.FailedPrecondition
	case KindConflict:
		return codes.AlreadyExists
	case KindValidation:
		return codes.InvalidArgument
	case KindDataIntegrity:
		return codes.DataLoss
	case KindAborted:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func New(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, format, args...)
}

func InvalidState(code, format string, args ...interface{}) *Error {
	return New(KindInvalidState, code, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return New(KindConflict, code, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, CodeValidation, format, args...)
}

func DataIntegrity(code, format string, args ...interface{}) *Error {
	return New(KindDataIntegrity, code, format, args...)
}

func ProductUnavailable(productID int64) *Error {
	return New(KindNotFound, CodeProductUnavailable, "product %d is not available", productID)
}

func InsufficientStock(productID int64, available, requested int32) *Error {
	e := New(KindInsufficientStock, CodeInsufficientStock,
		"insufficient stock for product %d: available %d, requested %d", productID, available, requested)
	e.Available = &available
	return e
}

// Internal wraps an unexpected datastore or infrastructure failure.
// Deadlock and serialization failures come back as KindAborted instead.
func Internal(err error, msg string) *Error {
	if aborted(err) {
		return &Error{Kind: KindAborted, Code: CodeTransactionAborted, Message: msg, Err: err}
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

func aborted(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateDeadlockDetected || pgErr.Code == sqlStateSerializationFailure
}

// FromDB turns a gorm error into a typed error, using notFound for missing rows.
// Domain errors returned from inside a transaction pass through unchanged.
func FromDB(err error, notFound *Error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil {
		return notFound
	}
	return Internal(err, msg)
}

func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func Is(err error, code string) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}
