package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gartstein/creditcheck/internal/creditcheck/auth"
	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes bounds purchase request bodies.
const maxBodyBytes = 1 << 20

// CreditCheckHandler serves the credit check HTTP API, mapping requests to a
// CreditCheckController. Every route expects the client id placed in the
// request context by auth.HTTPMiddleware.
type CreditCheckHandler struct {
	service CreditCheckController
	logger  *zap.Logger
}

// NewCreditCheckHandler constructs a new CreditCheckHandler with the given service and logger.
func NewCreditCheckHandler(service CreditCheckController, logger *zap.Logger) *CreditCheckHandler {
	return &CreditCheckHandler{
		service: service,
		logger:  logger.Named("http_handler"),
	}
}

// PurchaseCreditCheck buys and stores a credit check for the calling client.
func (h *CreditCheckHandler) PurchaseCreditCheck(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}

	var body purchaseBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed request body: %v", e.ErrInvalidInput, err))
		return
	}

	cc, err := h.service.PurchaseAndSave(r.Context(), body.toModel(clientID))
	if err != nil {
		h.logger.Error("Purchase credit check failed",
			zap.Int64("client_id", clientID),
			zap.String("corporation_number", body.CorporationNumber),
			zap.Error(err))
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditCheckResponse(cc))
}

// GetCreditCheck returns one credit check with its infos.
func (h *CreditCheckHandler) GetCreditCheck(w http.ResponseWriter, r *http.Request, params map[string]string) {
	clientID, id, ok := h.clientAndID(w, r, params)
	if !ok {
		return
	}

	cc, err := h.service.GetCreditCheck(r.Context(), clientID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditCheckResponse(cc))
}

// ListCreditChecks returns the client's credit checks, filtered by the
// status and corporation_number query parameters.
func (h *CreditCheckHandler) ListCreditChecks(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}

	filter, err := creditCheckFilterFromQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	checks, err := h.service.ListCreditChecks(r.Context(), clientID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := listCreditChecksResponse{CreditChecks: make([]creditCheckResponse, 0, len(checks))}
	for i := range checks {
		resp.CreditChecks = append(resp.CreditChecks, toCreditCheckResponse(&checks[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRiskInfos returns the client's risk observations, filtered by the
// corporation_number and tag query parameters.
func (h *CreditCheckHandler) ListRiskInfos(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}

	infos, err := h.service.ListRiskInfos(r.Context(), clientID, infoFilterFromQuery(r.URL.Query()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := listRiskInfosResponse{RiskInfos: make([]riskInfoResponse, 0, len(infos))}
	for i := range infos {
		resp.RiskInfos = append(resp.RiskInfos, toRiskInfoResponse(&infos[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDocument streams the stored report PDF.
func (h *CreditCheckHandler) GetDocument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	clientID, id, ok := h.clientAndID(w, r, params)
	if !ok {
		return
	}

	data, err := h.service.GetDocument(r.Context(), clientID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id.String()+".pdf"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("Failed to write document", zap.Error(err))
	}
}

// DeleteCreditCheck removes a finished credit check and its infos.
func (h *CreditCheckHandler) DeleteCreditCheck(w http.ResponseWriter, r *http.Request, params map[string]string) {
	clientID, id, ok := h.clientAndID(w, r, params)
	if !ok {
		return
	}

	if err := h.service.DeleteCreditCheck(r.Context(), clientID, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CreditCheckHandler) clientID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	clientID, ok := auth.ClientIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "client not authenticated"})
		return 0, false
	}
	return clientID, true
}

func (h *CreditCheckHandler) clientAndID(w http.ResponseWriter, r *http.Request, params map[string]string) (int64, uuid.UUID, bool) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return 0, uuid.Nil, false
	}
	id, err := uuid.Parse(params["id"])
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid credit check ID", e.ErrInvalidInput))
		return 0, uuid.Nil, false
	}
	return clientID, id, true
}

func (h *CreditCheckHandler) writeError(w http.ResponseWriter, err error) {
	code, msg := h.mapServiceError(err)
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
