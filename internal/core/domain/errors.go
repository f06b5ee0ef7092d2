package domain

import "errors"

var (
	ErrQuantityInvalid        = errors.New("quantity invalid")
	ErrInvalidDate            = errors.New("invalid date")
	ErrInvalidInput           = errors.New("invalid input")
	ErrItemNotFound           = errors.New("item not found")
	ErrBatchNotFound          = errors.New("batch not found")
	ErrReferenceNotFound      = errors.New("reference not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrForbidden              = errors.New("forbidden")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrItemNameTaken          = errors.New("item name taken")
)

// Stable error codes surfaced to clients.
const (
	CodeQuantityInvalid        = "quantity_invalid"
	CodeInvalidDate            = "invalid_date"
	CodeInvalidInput           = "invalid_input"
	CodeItemNotFound           = "item_not_found"
	CodeBatchNotFound          = "batch_not_found"
	CodeReferenceNotFound      = "reference_not_found"
	CodeInsufficientStock      = "insufficient_stock"
	CodeForbidden              = "forbidden"
	CodeUnauthenticated        = "unauthenticated"
	CodeIdempotencyKeyRequired = "idempotency_key_required"
	CodeItemNameTaken          = "item_name_taken"
	CodeFailed                 = "failed"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrQuantityInvalid, CodeQuantityInvalid},
	{ErrInvalidDate, CodeInvalidDate},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrItemNotFound, CodeItemNotFound},
	{ErrBatchNotFound, CodeBatchNotFound},
	{ErrReferenceNotFound, CodeReferenceNotFound},
	{ErrInsufficientStock, CodeInsufficientStock},
	{ErrForbidden, CodeForbidden},
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrIdempotencyKeyRequired, CodeIdempotencyKeyRequired},
	{ErrItemNameTaken, CodeItemNameTaken},
}

// ErrorCode maps an error to its stable client code. Errors outside the typed taxonomy
// map to CodeFailed so internals never leak.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeFailed
}

// IsExpected reports whether err is one of the typed, caller-facing outcomes.
func IsExpected(err error) bool {
	code := ErrorCode(err)
	return code != "" && code != CodeFailed
}
