package errors

import (
	"fmt"
)

var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")

	// ErrDuplicatePurchase means a pending or successful purchase already exists
	// for the same client and corporation.
	ErrDuplicatePurchase = fmt.Errorf("credit check already in progress or purchased")
	ErrLockTimeout       = fmt.Errorf("lock acquisition timed out")
	ErrExternalPurchase  = fmt.Errorf("credit check purchase failed")

	// Best-effort failures. These are logged, never returned from a purchase.
	ErrDetailFetch   = fmt.Errorf("credit check detail fetch failed")
	ErrStorageUpload = fmt.Errorf("document upload failed")

	ErrPersist = fmt.Errorf("failed to persist credit check")
)
