package trips

import "errors"

var (
	// ErrAlreadyRegistered is returned when a (user, trip) membership
	// already exists.
	ErrAlreadyRegistered = errors.New("already registered for this trip")

	// ErrNoPendingPayment is returned when a receipt arrives and the user
	// has no not_paid membership to attach it to.
	ErrNoPendingPayment = errors.New("no pending payment")

	// ErrTripFull is returned when registration is refused because every
	// seat is reserved.
	ErrTripFull = errors.New("trip is full")

	// ErrTripNotFound is returned when the referenced trip does not exist
	// or is no longer active.
	ErrTripNotFound = errors.New("trip not found")

	// ErrMembershipNotFound is returned when an admin action targets a
	// membership that does not exist.
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrUserNotFound is returned when account deletion targets an unknown
	// user.
	ErrUserNotFound = errors.New("user not found")

	// ErrStoreUnavailable wraps transient store failures. The transaction
	// was aborted with no partial writes; the caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
