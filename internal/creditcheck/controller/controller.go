// Package controller implements the credit check service layer: the
// purchase-and-persist workflow plus the read operations over stored checks.
package controller

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gartstein/creditcheck/internal/creditcheck/db"
	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
	"github.com/gartstein/creditcheck/internal/creditcheck/events"
	"github.com/gartstein/creditcheck/internal/creditcheck/lock"
	"github.com/gartstein/creditcheck/internal/creditcheck/metrics"
	"github.com/gartstein/creditcheck/internal/creditcheck/models"
	"github.com/gartstein/creditcheck/internal/creditcheck/provider"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// StorageFeature names the storage area for report documents.
	StorageFeature = "credit-check"
	lockPrefix     = "creditcheck:purchase:"
)

// EventProducer publishes credit check lifecycle events.
type EventProducer interface {
	Produce(eventType events.EventType, cc *models.CreditCheck)
}

// Repository defines the storage interface for credit checks.
type Repository interface {
	CreateCreditCheck(ctx context.Context, cc *models.CreditCheck) error
	ActiveCreditCheckExists(ctx context.Context, clientID int64, corporationNumber string) (bool, error)
	UpdateCreditCheck(ctx context.Context, cc *models.CreditCheck) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) error
	CreateInfos(ctx context.Context, infos []models.CreditCheckInfo) error
	GetCreditCheck(ctx context.Context, id uuid.UUID) (*models.CreditCheck, error)
	ListCreditChecks(ctx context.Context, clientID int64, filter models.CreditCheckFilter) ([]models.CreditCheck, error)
	ListInfos(ctx context.Context, clientID int64, filter models.InfoFilter) ([]models.CreditCheckInfo, error)
	DeleteCreditCheck(ctx context.Context, id uuid.UUID) error
	WithTransaction(ctx context.Context, fn func(repo *db.Repository) error) error
}

// Provider is the third-party credit check API.
type Provider interface {
	Purchase(ctx context.Context, req provider.PurchaseRequest) (*provider.PurchaseResult, error)
	GetDetail(ctx context.Context, reportID int64, withDocument bool) (*provider.Detail, error)
}

// DocumentStore persists report PDFs.
type DocumentStore interface {
	Upload(ctx context.Context, data []byte, clientID int64, feature, filename string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
}

// CreditCheckService purchases credit checks and serves the stored results.
type CreditCheckService struct {
	repo     Repository
	provider Provider
	store    DocumentStore
	locker   lock.Locker
	producer EventProducer
	metrics  *metrics.Metrics
	logger   *zap.Logger
	lockWait time.Duration
}

// Option customizes a CreditCheckService.
type Option func(*CreditCheckService)

// WithLockWait overrides lock.DefaultWait.
func WithLockWait(d time.Duration) Option {
	return func(s *CreditCheckService) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// NewCreditCheckService wires the service dependencies.
func NewCreditCheckService(
	repo Repository,
	prov Provider,
	store DocumentStore,
	locker lock.Locker,
	producer EventProducer,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *CreditCheckService {
	s := &CreditCheckService{
		repo:     repo,
		provider: prov,
		store:    store,
		locker:   locker,
		producer: producer,
		metrics:  m,
		logger:   logger.Named("credit_check_service"),
		lockWait: lock.DefaultWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PurchaseAndSave buys a credit check report for the corporation and stores it.
//
// Purchases for one client are serialized by a lock held for the whole call,
// including provider latency. Only validation, locking, the duplicate guard and
// the purchase call itself can fail the call. Once the report is bought the
// detail fetch and document upload are best-effort: their failures are logged
// and the record still ends in success with the affected fields left empty.
func (s *CreditCheckService) PurchaseAndSave(ctx context.Context, req *models.PurchaseRequest) (*models.CreditCheck, error) {
	start := time.Now()
	defer func() {
		s.metrics.PurchaseDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		s.metrics.ObservePurchase(metrics.OutcomeInvalid)
		return nil, fmt.Errorf("%w: %v", e.ErrInvalidInput, err)
	}

	log := s.logger.With(
		zap.Int64("client_id", req.ClientID),
		zap.String("corporation_number", req.CorporationNumber),
	)

	held, err := s.locker.Obtain(ctx, lockKey(req.ClientID), s.lockWait)
	s.metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, e.ErrLockTimeout) {
			s.metrics.ObservePurchase(metrics.OutcomeLockTimeout)
		}
		return nil, fmt.Errorf("failed to obtain purchase lock: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Error("Failed to release purchase lock", zap.Error(err))
		}
	}()

	exists, err := s.repo.ActiveCreditCheckExists(ctx, req.ClientID, req.CorporationNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing credit checks: %w", err)
	}
	if exists {
		s.metrics.ObservePurchase(metrics.OutcomeDuplicate)
		return nil, e.ErrDuplicatePurchase
	}

	cc := &models.CreditCheck{
		ID:                uuid.Must(uuid.NewV7()),
		ClientID:          req.ClientID,
		CorporationNumber: req.CorporationNumber,
		Status:            models.StatusPending,
	}
	if err := s.repo.CreateCreditCheck(ctx, cc); err != nil {
		return nil, fmt.Errorf("failed to create credit check: %w", err)
	}
	log = log.With(zap.String("credit_check_id", cc.ID.String()))

	log.Info("Purchasing credit check")
	result, err := s.provider.Purchase(ctx, toProviderRequest(req))
	if err != nil {
		log.Error("Credit check purchase failed", zap.Error(err))
		cc.Status = models.StatusError
		if uerr := s.repo.UpdateStatus(context.WithoutCancel(ctx), cc.ID, models.StatusError); uerr != nil {
			log.Error("Failed to mark credit check as error", zap.Error(uerr))
		}
		s.metrics.ObservePurchase(metrics.OutcomePurchaseError)
		go func() {
			s.producer.Produce(events.CreditCheckFailed, cc)
		}()
		return nil, fmt.Errorf("%w: %w", e.ErrExternalPurchase, err)
	}

	// The report is paid for from here on; finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	reportID := result.ReportID
	cc.ReportID = &reportID
	log = log.With(zap.Int64("report_id", reportID))
	log.Info("Credit check purchased")

	detail := s.fetchDetail(ctx, log, reportID)

	var infos []models.CreditCheckInfo
	if detail != nil {
		cc.DocumentPath = s.uploadDocument(ctx, log, req.ClientID, reportID, detail.DocumentBase64)
		applyDetail(log, cc, detail)
		infos = buildInfos(cc.ID, detail)
	}
	cc.Status = models.StatusSuccess

	if err := s.repo.UpdateCreditCheck(ctx, cc); err != nil {
		// The report was bought but could not be recorded.
		log.Error("Failed to persist purchased credit check", zap.Error(err))
		s.metrics.ObservePurchase(metrics.OutcomePersistError)
		return nil, fmt.Errorf("%w: report %d: %w", e.ErrPersist, reportID, err)
	}
	cc.Infos = s.saveInfos(ctx, log, infos)

	s.metrics.ObservePurchase(metrics.OutcomeSuccess)
	log.Info("Credit check saved", zap.Int("infos", len(cc.Infos)))
	go func() {
		s.producer.Produce(events.CreditCheckPurchased, cc)
	}()
	return cc, nil
}

// fetchDetail returns nil when the detail cannot be fetched or parsed.
func (s *CreditCheckService) fetchDetail(ctx context.Context, log *zap.Logger, reportID int64) *provider.Detail {
	detail, err := s.provider.GetDetail(ctx, reportID, true)
	if err != nil {
		log.Error("Credit check detail fetch failed", zap.Error(fmt.Errorf("%w: %w", e.ErrDetailFetch, err)))
		s.metrics.ObserveEnrichmentFailure(metrics.StepDetail)
		return nil
	}
	return detail
}

// uploadDocument returns the stored path, or nil when there is no document or
// the upload fails.
func (s *CreditCheckService) uploadDocument(ctx context.Context, log *zap.Logger, clientID, reportID int64, encoded string) *string {
	if encoded == "" {
		return nil
	}

	path, err := s.storeDocument(ctx, clientID, reportID, encoded)
	if err != nil {
		log.Error("Credit check document upload failed", zap.Error(fmt.Errorf("%w: %w", e.ErrStorageUpload, err)))
		s.metrics.ObserveEnrichmentFailure(metrics.StepUpload)
		return nil
	}
	log.Info("Credit check document stored", zap.String("path", path))
	return &path
}

// saveInfos inserts the risk infos all or nothing and returns what was stored.
func (s *CreditCheckService) saveInfos(ctx context.Context, log *zap.Logger, infos []models.CreditCheckInfo) []models.CreditCheckInfo {
	if len(infos) == 0 {
		return nil
	}

	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		return tx.CreateInfos(ctx, infos)
	})
	if err != nil {
		log.Error("Credit check infos save failed", zap.Error(err), zap.Int("infos", len(infos)))
		s.metrics.ObserveEnrichmentFailure(metrics.StepInfos)
		return nil
	}
	return infos
}

func (s *CreditCheckService) storeDocument(ctx context.Context, clientID, reportID int64, encoded string) (string, error) {
	pdf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}
	return s.store.Upload(ctx, pdf, clientID, StorageFeature, documentFilename(reportID))
}

func applyDetail(log *zap.Logger, cc *models.CreditCheck, detail *provider.Detail) {
	if detail.CorporationName != "" {
		name := detail.CorporationName
		cc.CompanyName = &name
	}
	if verdict, ok := models.ParseVerdict(detail.Result); ok {
		cc.Verdict = &verdict
	} else if detail.Result != "" {
		log.Warn("Unknown credit check result", zap.String("result", detail.Result))
	}
	cc.PurchasedAt = detail.PurchaseDate
	cc.ExpiresAt = detail.ExpirationDate
}

// buildInfos creates one row per (received date, tag) pair.
func buildInfos(creditCheckID uuid.UUID, detail *provider.Detail) []models.CreditCheckInfo {
	var infos []models.CreditCheckInfo
	for _, info := range detail.Infos {
		for _, tag := range info.Tags {
			infos = append(infos, models.CreditCheckInfo{
				CreditCheckID: creditCheckID,
				ReceivedOn:    info.ReceivedDate,
				Tag:           tag.Name,
				Description:   tag.Description,
				Source:        tag.Source,
			})
		}
	}
	return infos
}

func toProviderRequest(req *models.PurchaseRequest) provider.PurchaseRequest {
	out := provider.PurchaseRequest{
		CorporationNumber:     req.CorporationNumber,
		PurchaseReasons:       req.PurchaseReasons,
		PurchaseReasonComment: req.PurchaseReasonComment,
	}
	if req.Deal != nil {
		deal := int(*req.Deal)
		out.Deal = &deal
	}
	return out
}

func lockKey(clientID int64) string {
	return lockPrefix + strconv.FormatInt(clientID, 10)
}

func documentFilename(reportID int64) string {
	return strconv.FormatInt(reportID, 10) + ".pdf"
}

// GetCreditCheck returns one of the client's credit checks with its infos.
// Checks owned by another client are reported as not found.
func (s *CreditCheckService) GetCreditCheck(ctx context.Context, clientID int64, id uuid.UUID) (*models.CreditCheck, error) {
	cc, err := s.repo.GetCreditCheck(ctx, id)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get credit check: %w", err)
	}
	if cc.ClientID != clientID {
		return nil, e.ErrNotFound
	}
	return cc, nil
}

// ListCreditChecks returns the client's credit checks, newest first.
func (s *CreditCheckService) ListCreditChecks(ctx context.Context, clientID int64, filter models.CreditCheckFilter) ([]models.CreditCheck, error) {
	if filter.CorporationNumber != "" && !models.IsCorporationNumber(filter.CorporationNumber) {
		return nil, fmt.Errorf("%w: invalid corporation number", e.ErrInvalidInput)
	}
	checks, err := s.repo.ListCreditChecks(ctx, clientID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit checks: %w", err)
	}
	return checks, nil
}

// ListRiskInfos returns the client's risk observations across all checks.
func (s *CreditCheckService) ListRiskInfos(ctx context.Context, clientID int64, filter models.InfoFilter) ([]models.CreditCheckInfo, error) {
	if filter.CorporationNumber != "" && !models.IsCorporationNumber(filter.CorporationNumber) {
		return nil, fmt.Errorf("%w: invalid corporation number", e.ErrInvalidInput)
	}
	infos, err := s.repo.ListInfos(ctx, clientID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk infos: %w", err)
	}
	return infos, nil
}

// GetDocument returns the stored PDF of one of the client's credit checks.
func (s *CreditCheckService) GetDocument(ctx context.Context, clientID int64, id uuid.UUID) ([]byte, error) {
	cc, err := s.GetCreditCheck(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if cc.DocumentPath == nil {
		return nil, fmt.Errorf("%w: credit check has no document", e.ErrNotFound)
	}
	data, err := s.store.Download(ctx, *cc.DocumentPath)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to download document: %w", err)
	}
	return data, nil
}

// DeleteCreditCheck removes one of the client's credit checks and its infos.
// A pending check cannot be deleted while its purchase is running.
func (s *CreditCheckService) DeleteCreditCheck(ctx context.Context, clientID int64, id uuid.UUID) error {
	cc, err := s.GetCreditCheck(ctx, clientID, id)
	if err != nil {
		return err
	}
	if cc.Status == models.StatusPending {
		return fmt.Errorf("%w: credit check purchase is still pending", e.ErrInvalidInput)
	}
	if err := s.repo.DeleteCreditCheck(ctx, id); err != nil {
		if errors.Is(err, e.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete credit check: %w", err)
	}
	return nil
}
