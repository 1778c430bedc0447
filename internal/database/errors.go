package database

import (
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const (
	codeUniqueViolation  = "23505"
	codeSerialization    = "40001"
	codeDeadlock         = "40P01"
	codeLockNotAvailable = "55P03"
	codeInvalidText      = "22P02"
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerialization:
			return ErrorClassSerialization
		case codeDeadlock:
			return ErrorClassDeadlock
		case codeLockNotAvailable:
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique constraint violation. An
// empty constraint matches any unique index.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func IsLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeLockNotAvailable
}

// IsInvalidInput reports whether Postgres rejected a value as malformed for
// its column type, such as a non-UUID string compared with a UUID column.
func IsInvalidInput(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeInvalidText
}

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrProductNotFound      = errors.New("product not found")
	ErrProductUnavailable   = errors.New("product unavailable")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
	ErrLockTimeout          = errors.New("lock timeout")
	ErrOrderNumberExhausted = errors.New("could not allocate a unique order number")
	ErrOrderNotCancellable  = errors.New("order cannot be cancelled once shipped or delivered")
	ErrAlreadyPaid          = errors.New("order is already paid")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrVerificationNotFound = errors.New("verification request not found")
	ErrVerificationActive   = errors.New("a verification request is already pending or approved")
	ErrVerificationDecided  = errors.New("verification request has already been reviewed")
)
