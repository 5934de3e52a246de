package domain

import "errors"

// Domain errors
var (
	// Lookup errors
	ErrEventNotFound      = errors.New("event not found")
	ErrUnknownTicketClass = errors.New("unknown ticket class")
	ErrBookingNotFound    = errors.New("booking not found")

	// Admissibility errors, reported verbatim and never retried
	ErrSalesWindowClosed     = errors.New("ticket class is outside its sales window")
	ErrOrderLimitExceeded    = errors.New("quantity exceeds the per-order limit")
	ErrUserLimitExceeded     = errors.New("quantity exceeds the per-user limit")
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// Cancellation errors
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrNotAuthorized    = errors.New("not authorized for this booking")

	// Check-in errors
	ErrNotCheckInEligible = errors.New("only confirmed bookings can be checked in")

	// Store errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrBookingIDExhausted     = errors.New("could not allocate a unique booking id")
	ErrTransientFailure       = errors.New("transient failure, please retry")
	ErrStoreUnavailable       = errors.New("backing store unavailable")

	// Validation errors
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidBuyer       = errors.New("buyer name, email and phone are required")
	ErrInvalidEvent       = errors.New("invalid event definition")
	ErrEventAlreadyExists = errors.New("event already exists")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrUnknownTicketClass) ||
		errors.Is(err, ErrBookingNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidBuyer) ||
		errors.Is(err, ErrInvalidEvent)
}

// IsAdmissionError checks if the error is a reservation admissibility failure
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrSalesWindowClosed) ||
		errors.Is(err, ErrOrderLimitExceeded) ||
		errors.Is(err, ErrUserLimitExceeded) ||
		errors.Is(err, ErrInsufficientInventory)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrEventAlreadyExists) ||
		errors.Is(err, ErrNotCheckInEligible) ||
		IsAdmissionError(err)
}

// IsRetryable reports whether the orchestrator may replay the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrBookingIDExhausted)
}
