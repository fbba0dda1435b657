package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorVersionConflict is returned when a write carries a stale version.
// Callers decide whether to retry; the store never retries on its own.
var ErrorVersionConflict = errors.New("version conflict")

var (
	ErrorNotPending    = errors.New("purchase is not pending")
	ErrorEmptyReason   = errors.New("rejection reason is required")
	ErrorWrongApprover = errors.New("user is not the assigned approver")
	ErrorEmptyCart     = errors.New("cart cannot be empty")
)
