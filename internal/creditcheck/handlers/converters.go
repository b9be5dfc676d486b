package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
	"github.com/gartstein/creditcheck/internal/creditcheck/models"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type purchaseBody struct {
	CorporationNumber     string  `json:"corporation_number"`
	Deal                  *int    `json:"deal,omitempty"`
	PurchaseReasons       []int   `json:"purchase_reasons,omitempty"`
	PurchaseReasonComment *string `json:"purchase_reason_comment,omitempty"`
}

// toModel converts the request body into a purchase request for clientID.
func (b *purchaseBody) toModel(clientID int64) *models.PurchaseRequest {
	req := &models.PurchaseRequest{
		ClientID:              clientID,
		CorporationNumber:     b.CorporationNumber,
		PurchaseReasons:       b.PurchaseReasons,
		PurchaseReasonComment: b.PurchaseReasonComment,
	}
	if b.Deal != nil {
		deal := models.Deal(*b.Deal)
		req.Deal = &deal
	}
	return req
}

type creditCheckResponse struct {
	ID                string             `json:"id"`
	CorporationNumber string             `json:"corporation_number"`
	Status            models.Status      `json:"status"`
	ReportID          *int64             `json:"report_id,omitempty"`
	CompanyName       *string            `json:"company_name,omitempty"`
	Verdict           *models.Verdict    `json:"verdict,omitempty"`
	PurchasedAt       *string            `json:"purchased_at,omitempty"`
	ExpiresAt         *string            `json:"expires_at,omitempty"`
	HasDocument       bool               `json:"has_document"`
	Infos             []riskInfoResponse `json:"infos,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type riskInfoResponse struct {
	CreditCheckID string  `json:"credit_check_id"`
	ReceivedOn    string  `json:"received_on"`
	Tag           string  `json:"tag"`
	Description   string  `json:"description"`
	Source        *string `json:"source,omitempty"`
}

type listCreditChecksResponse struct {
	CreditChecks []creditCheckResponse `json:"credit_checks"`
}

type listRiskInfosResponse struct {
	RiskInfos []riskInfoResponse `json:"risk_infos"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toCreditCheckResponse converts a stored credit check into its API form.
// The storage path of the document is not exposed.
func toCreditCheckResponse(cc *models.CreditCheck) creditCheckResponse {
	resp := creditCheckResponse{
		ID:                cc.ID.String(),
		CorporationNumber: cc.CorporationNumber,
		Status:            cc.Status,
		ReportID:          cc.ReportID,
		CompanyName:       cc.CompanyName,
		Verdict:           cc.Verdict,
		PurchasedAt:       formatDate(cc.PurchasedAt),
		ExpiresAt:         formatDate(cc.ExpiresAt),
		HasDocument:       cc.DocumentPath != nil,
		CreatedAt:         cc.CreatedAt,
		UpdatedAt:         cc.UpdatedAt,
	}
	for i := range cc.Infos {
		resp.Infos = append(resp.Infos, toRiskInfoResponse(&cc.Infos[i]))
	}
	return resp
}

func toRiskInfoResponse(info *models.CreditCheckInfo) riskInfoResponse {
	return riskInfoResponse{
		CreditCheckID: info.CreditCheckID.String(),
		ReceivedOn:    info.ReceivedOn.Format(dateLayout),
		Tag:           info.Tag,
		Description:   info.Description,
		Source:        info.Source,
	}
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func creditCheckFilterFromQuery(q url.Values) (models.CreditCheckFilter, error) {
	filter := models.CreditCheckFilter{CorporationNumber: q.Get("corporation_number")}
	if raw := q.Get("status"); raw != "" {
		status := models.Status(raw)
		switch status {
		case models.StatusPending, models.StatusSuccess, models.StatusError:
			filter.Status = status
		default:
			return filter, fmt.Errorf("%w: unknown status %q", e.ErrInvalidInput, raw)
		}
	}
	return filter, nil
}

func infoFilterFromQuery(q url.Values) models.InfoFilter {
	return models.InfoFilter{
		CorporationNumber: q.Get("corporation_number"),
		Tag:               q.Get("tag"),
	}
}

// mapServiceError maps domain or repository errors to HTTP status codes.
func (h *CreditCheckHandler) mapServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, e.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, e.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, e.ErrDuplicatePurchase):
		return http.StatusConflict, err.Error()
	case errors.Is(err, e.ErrLockTimeout):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, e.ErrExternalPurchase):
		return http.StatusBadGateway, e.ErrExternalPurchase.Error()
	default:
		h.logger.Error("Internal server error", zap.Error(err))
		return http.StatusInternalServerError, "internal server error"
	}
}
