package credit

import "errors"

// IsNotFound reports whether the error means a referenced loan, credit line or
// configuration does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, errLoanNotFound) ||
		errors.Is(err, errLineNotRegistered) ||
		errors.Is(err, errLineNotConfigured) ||
		errors.Is(err, errPoolNotRegistered) ||
		errors.Is(err, errBorrowerNotConfigured)
}

// IsUnauthorized reports whether the error means the caller is not allowed to
// perform the operation.
func IsUnauthorized(err error) bool {
	return errors.Is(err, errUnauthorized)
}

// IsStateConflict reports whether the error means the target exists but is in
// a state that does not admit the operation.
func IsStateConflict(err error) bool {
	return errors.Is(err, errLineAlreadyRegistered) ||
		errors.Is(err, errPoolAlreadyRegistered) ||
		errors.Is(err, errLoanAlreadySettled) ||
		errors.Is(err, errLoanAlreadyFrozen) ||
		errors.Is(err, errLoanNotFrozen)
}
