// Package models defines the core domain models for purchased credit checks.
// It includes CreditCheck, its CreditCheckInfo risk observations, and the
// Status and Verdict enumerations. The structs double as GORM row definitions.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a credit check purchase.
type Status string

const (
	// StatusPending is set before any external call is made.
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ActiveStatuses are the states that block another purchase for the same
// client and corporation.
var ActiveStatuses = []Status{StatusPending, StatusSuccess}

// Verdict is the provider's risk judgement for a company.
type Verdict string

const (
	VerdictLow    Verdict = "low"
	VerdictMedium Verdict = "medium"
	VerdictHigh   Verdict = "high"
)

// ParseVerdict maps the provider's result value to a Verdict. The provider
// reports ok/hold/ng; the canonical names are accepted as well.
func ParseVerdict(raw string) (Verdict, bool) {
	switch raw {
	case "ok", string(VerdictLow):
		return VerdictLow, true
	case "hold", string(VerdictMedium):
		return VerdictMedium, true
	case "ng", string(VerdictHigh):
		return VerdictHigh, true
	default:
		return "", false
	}
}

// CreditCheck is one purchased credit check report.
type CreditCheck struct {
	// ID is a UUIDv7, so ids sort by creation time.
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`
	// ClientID is the owning client.
	ClientID int64 `gorm:"not null;index:idx_credit_check_client_corp_status,priority:1"`
	// ReportID is the provider-side credit check id, set once the purchase succeeds.
	ReportID *int64 `gorm:"index:idx_credit_check_report_id"`
	// CorporationNumber is the 13 digit corporate number of the checked company.
	CorporationNumber string `gorm:"size:13;not null;index:idx_credit_check_client_corp_status,priority:2"`
	// CompanyName is the display name returned by the provider.
	CompanyName *string `gorm:"size:255"`
	// Verdict is the risk judgement, nil until a detail fetch succeeds.
	Verdict *Verdict `gorm:"size:10"`
	// PurchasedAt is the provider's purchase date.
	PurchasedAt *time.Time `gorm:"index:idx_credit_check_purchased_at"`
	// ExpiresAt is the date after which the report is no longer valid.
	ExpiresAt *time.Time
	// DocumentPath locates the stored PDF report.
	DocumentPath *string `gorm:"size:500"`
	// Status is the lifecycle state.
	Status Status `gorm:"size:10;not null;index:idx_credit_check_client_corp_status,priority:3"`
	// Infos are the risk observations attached to this report.
	Infos []CreditCheckInfo `gorm:"foreignKey:CreditCheckID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the GORM default.
func (CreditCheck) TableName() string {
	return "credit_check"
}

// CreditCheckInfo is a dated, tagged risk observation about a company.
type CreditCheckInfo struct {
	ID            uint      `gorm:"primaryKey"`
	CreditCheckID uuid.UUID `gorm:"type:uuid;not null;index:idx_credit_check_info_credit_check_id"`
	// ReceivedOn is the date the provider recorded the observation.
	ReceivedOn  time.Time `gorm:"type:date;not null"`
	Tag         string    `gorm:"size:100;not null"`
	Description string    `gorm:"type:text;not null"`
	// Source names where the observation came from, if the provider says.
	Source    *string `gorm:"size:100"`
	CreatedAt time.Time
}

// TableName overrides the GORM default.
func (CreditCheckInfo) TableName() string {
	return "credit_check_info"
}

// CreditCheckFilter narrows ListCreditChecks. Zero values match everything.
type CreditCheckFilter struct {
	Status            Status
	CorporationNumber string
}

// InfoFilter narrows ListInfos. Zero values match everything.
type InfoFilter struct {
	CorporationNumber string
	Tag               string
}
