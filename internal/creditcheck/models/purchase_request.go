package models

import (
	"fmt"
)

// CorporationNumberLength is the length of a corporate number.
const CorporationNumberLength = 13

// Deal describes the business relationship with the checked company.
type Deal int

const (
	DealExisting Deal = 1
	DealNone     Deal = 2
	DealOther    Deal = 9
)

// PurchaseRequest carries the inputs of a credit check purchase.
type PurchaseRequest struct {
	ClientID              int64   `json:"client_id"`
	CorporationNumber     string  `json:"corporation_number"`
	Deal                  *Deal   `json:"deal,omitempty"`
	PurchaseReasons       []int   `json:"purchase_reasons,omitempty"`
	PurchaseReasonComment *string `json:"purchase_reason_comment,omitempty"`
}

// Validate reports the first problem with the request, if any.
func (r *PurchaseRequest) Validate() error {
	if r.ClientID <= 0 {
		return fmt.Errorf("client id must be positive")
	}
	if !IsCorporationNumber(r.CorporationNumber) {
		return fmt.Errorf("corporation number must be %d digits", CorporationNumberLength)
	}
	if r.Deal != nil {
		switch *r.Deal {
		case DealExisting, DealNone, DealOther:
		default:
			return fmt.Errorf("unknown deal value %d", *r.Deal)
		}
	}
	return nil
}

// IsCorporationNumber reports whether s is a 13 digit number.
func IsCorporationNumber(s string) bool {
	if len(s) != CorporationNumberLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
