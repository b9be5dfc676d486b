package provider

import (
	"fmt"
	"time"
)

// PurchaseRequest is the purchase call body.
type PurchaseRequest struct {
	CorporationNumber     string  `json:"corporation_number"`
	Deal                  *int    `json:"deal,omitempty"`
	PurchaseReasons       []int   `json:"purchase_reasons,omitempty"`
	PurchaseReasonComment *string `json:"purchase_reason_comment,omitempty"`
}

// PurchaseResult identifies the purchased report.
type PurchaseResult struct {
	ReportID int64
}

// Detail is a purchased report with its dates parsed.
type Detail struct {
	CorporationName string
	// Result is the raw verdict value, e.g. "ok", "hold" or "ng".
	Result         string
	PurchaseDate   *time.Time
	ExpirationDate *time.Time
	// DocumentBase64 is the encoded PDF, empty when not requested or absent.
	DocumentBase64 string
	Infos          []Info
}

// Info groups the tags observed on one date.
type Info struct {
	ReceivedDate time.Time
	Tags         []Tag
}

type Tag struct {
	Name        string
	Description string
	Source      *string
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newAPIError(status int, body *errorResponse) *APIError {
	return &APIError{StatusCode: status, Code: body.Code, Message: body.Message}
}

type purchaseResponse struct {
	CreditCheck struct {
		CreditCheckID int64 `json:"credit_check_id"`
	} `json:"credit_check"`
}

type detailResponse struct {
	CorporationName string `json:"corporation_name"`
	Result          string `json:"result"`
	PurchaseDate    string `json:"purchase_date"`
	ExpirationDate  string `json:"expiration_date"`
	PDFFileData     string `json:"pdf_file_data"`
	Infos           []struct {
		ReceivedDate string `json:"received_date"`
		Tags         []struct {
			Name        string  `json:"name"`
			Description string  `json:"description"`
			Source      *string `json:"source"`
		} `json:"tags"`
	} `json:"infos"`
}

func (r *detailResponse) toDetail() (*Detail, error) {
	purchased, err := parseOptionalDate("purchase_date", r.PurchaseDate)
	if err != nil {
		return nil, err
	}
	expires, err := parseOptionalDate("expiration_date", r.ExpirationDate)
	if err != nil {
		return nil, err
	}

	d := &Detail{
		CorporationName: r.CorporationName,
		Result:          r.Result,
		PurchaseDate:    purchased,
		ExpirationDate:  expires,
		DocumentBase64:  r.PDFFileData,
		Infos:           make([]Info, 0, len(r.Infos)),
	}
	for _, info := range r.Infos {
		received, err := time.Parse(DateLayout, info.ReceivedDate)
		if err != nil {
			return nil, fmt.Errorf("invalid received_date %q: %w", info.ReceivedDate, err)
		}
		tags := make([]Tag, 0, len(info.Tags))
		for _, tag := range info.Tags {
			tags = append(tags, Tag{Name: tag.Name, Description: tag.Description, Source: tag.Source})
		}
		d.Infos = append(d.Infos, Info{ReceivedDate: received, Tags: tags})
	}
	return d, nil
}

func parseOptionalDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return &t, nil
}
