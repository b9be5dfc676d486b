package controller

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gartstein/creditcheck/internal/creditcheck/db"
	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
	"github.com/gartstein/creditcheck/internal/creditcheck/events"
	"github.com/gartstein/creditcheck/internal/creditcheck/lock"
	"github.com/gartstein/creditcheck/internal/creditcheck/metrics"
	"github.com/gartstein/creditcheck/internal/creditcheck/models"
	"github.com/gartstein/creditcheck/internal/creditcheck/provider"
	"github.com/gartstein/creditcheck/internal/pkg/utils"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testClientID    = int64(7)
	testCorporation = "1234567890123"
)

var testPDF = []byte("%PDF-1.4 test document")

// MockProvider is a func-field test double for the provider API.
type MockProvider struct {
	purchase  func(context.Context, provider.PurchaseRequest) (*provider.PurchaseResult, error)
	getDetail func(context.Context, int64, bool) (*provider.Detail, error)

	mu            sync.Mutex
	purchaseCalls int
	detailCalls   int
}

func (m *MockProvider) Purchase(ctx context.Context, req provider.PurchaseRequest) (*provider.PurchaseResult, error) {
	m.mu.Lock()
	m.purchaseCalls++
	m.mu.Unlock()
	return m.purchase(ctx, req)
}

func (m *MockProvider) GetDetail(ctx context.Context, reportID int64, withDocument bool) (*provider.Detail, error) {
	m.mu.Lock()
	m.detailCalls++
	m.mu.Unlock()
	return m.getDetail(ctx, reportID, withDocument)
}

func (m *MockProvider) calls() (purchase, detail int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purchaseCalls, m.detailCalls
}

// MockStore keeps uploaded documents in memory.
type MockStore struct {
	uploadErr error

	mu      sync.Mutex
	objects map[string][]byte
}

func newMockStore() *MockStore {
	return &MockStore{objects: make(map[string][]byte)}
}

func (m *MockStore) Upload(_ context.Context, data []byte, clientID int64, feature, filename string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := fmt.Sprintf("bolt://documents/clients/%d/%s/%s", clientID, feature, filename)
	m.objects[path] = data
	return path, nil
}

func (m *MockStore) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, e.ErrNotFound
	}
	return data, nil
}

// MockProducer is a test double for the Kafka producer.
type MockProducer struct {
	mu             sync.Mutex
	producedEvents []events.EventType
	wg             sync.WaitGroup
}

// Produce records the event and signals the wait group.
func (m *MockProducer) Produce(eventType events.EventType, _ *models.CreditCheck) {
	m.mu.Lock()
	m.producedEvents = append(m.producedEvents, eventType)
	m.mu.Unlock()
	m.wg.Done()
}

func (m *MockProducer) events() []events.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.EventType(nil), m.producedEvents...)
}

// failingUpdateRepository fails the final credit check update.
type failingUpdateRepository struct {
	*db.Repository
	err error
}

func (r *failingUpdateRepository) UpdateCreditCheck(_ context.Context, _ *models.CreditCheck) error {
	return r.err
}

type testEnv struct {
	repo     *db.Repository
	provider *MockProvider
	store    *MockStore
	producer *MockProducer
	locker   *lock.MemoryLocker
	metrics  *metrics.Metrics
	core     zapcore.Core
	logs     *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	repo, err := db.NewRepository(&db.Config{
		Driver: db.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	return &testEnv{
		repo: repo,
		provider: &MockProvider{
			purchase:  purchaseReturning(42),
			getDetail: detailReturning(sampleDetail()),
		},
		store:    newMockStore(),
		producer: &MockProducer{},
		locker:   lock.NewMemoryLocker(),
		metrics:  metrics.New(prometheus.NewRegistry()),
		core:     core,
		logs:     logs,
	}
}

func (env *testEnv) service(repo Repository, opts ...Option) *CreditCheckService {
	if repo == nil {
		repo = env.repo
	}
	return NewCreditCheckService(repo, env.provider, env.store, env.locker, env.producer, env.metrics, zap.New(env.core), opts...)
}

func (env *testEnv) outcome(outcome string) float64 {
	return testutil.ToFloat64(env.metrics.PurchasesTotal.WithLabelValues(outcome))
}

func purchaseReturning(reportID int64) func(context.Context, provider.PurchaseRequest) (*provider.PurchaseResult, error) {
	return func(context.Context, provider.PurchaseRequest) (*provider.PurchaseResult, error) {
		return &provider.PurchaseResult{ReportID: reportID}, nil
	}
}

func detailReturning(d *provider.Detail) func(context.Context, int64, bool) (*provider.Detail, error) {
	return func(context.Context, int64, bool) (*provider.Detail, error) {
		return d, nil
	}
}

func date(s string) time.Time {
	d, err := time.Parse(provider.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleDetail() *provider.Detail {
	return &provider.Detail{
		CorporationName: "Example Inc.",
		Result:          "ok",
		PurchaseDate:    utils.Ptr(date("2025-12-18")),
		ExpirationDate:  utils.Ptr(date("2026-12-18")),
		DocumentBase64:  base64.StdEncoding.EncodeToString(testPDF),
		Infos: []provider.Info{
			{
				ReceivedDate: date("2025-11-01"),
				Tags: []provider.Tag{
					{Name: "performance", Description: "revenue down", Source: utils.Ptr("financials")},
					{Name: "personnel", Description: "new CEO"},
				},
			},
		},
	}
}

func validRequest() *models.PurchaseRequest {
	return &models.PurchaseRequest{
		ClientID:          testClientID,
		CorporationNumber: testCorporation,
		Deal:              utils.Ptr(models.DealExisting),
		PurchaseReasons:   []int{1},
	}
}

func TestCreditCheckService_PurchaseAndSave(t *testing.T) {
	env := newTestEnv(t)
	var sent provider.PurchaseRequest
	env.provider.purchase = func(_ context.Context, req provider.PurchaseRequest) (*provider.PurchaseResult, error) {
		sent = req
		return &provider.PurchaseResult{ReportID: 42}, nil
	}
	env.provider.getDetail = func(_ context.Context, reportID int64, withDocument bool) (*provider.Detail, error) {
		assert.Equal(t, int64(42), reportID)
		assert.True(t, withDocument)
		return sampleDetail(), nil
	}
	svc := env.service(nil)

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	assert.Equal(t, testCorporation, sent.CorporationNumber)
	assert.Equal(t, 1, *sent.Deal)

	assert.Equal(t, models.StatusSuccess, cc.Status)
	assert.Equal(t, int64(42), *cc.ReportID)
	require.NotNil(t, cc.Verdict)
	assert.Equal(t, models.VerdictLow, *cc.Verdict)
	assert.Equal(t, "Example Inc.", *cc.CompanyName)
	assert.Equal(t, "bolt://documents/clients/7/credit-check/42.pdf", *cc.DocumentPath)
	assert.Len(t, cc.Infos, 2)

	stored, err := env.repo.GetCreditCheck(context.Background(), cc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.Equal(t, int64(42), *stored.ReportID)
	assert.Equal(t, models.VerdictLow, *stored.Verdict)
	assert.Equal(t, "2025-12-18", stored.PurchasedAt.Format(provider.DateLayout))
	assert.Equal(t, "2026-12-18", stored.ExpiresAt.Format(provider.DateLayout))
	require.Len(t, stored.Infos, 2)
	tags := []string{stored.Infos[0].Tag, stored.Infos[1].Tag}
	assert.ElementsMatch(t, []string{"performance", "personnel"}, tags)
	for _, info := range stored.Infos {
		assert.Equal(t, "2025-11-01", info.ReceivedOn.Format(provider.DateLayout))
	}

	doc, err := env.store.Download(context.Background(), *stored.DocumentPath)
	require.NoError(t, err)
	assert.Equal(t, testPDF, doc)

	assert.Equal(t, []events.EventType{events.CreditCheckPurchased}, env.producer.events())
	assert.Equal(t, float64(1), env.outcome(metrics.OutcomeSuccess))
}

func TestCreditCheckService_PurchaseAndSaveInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  *models.PurchaseRequest
	}{
		{
			name: "short corporation number",
			req:  &models.PurchaseRequest{ClientID: testClientID, CorporationNumber: "123"},
		},
		{
			name: "missing client",
			req:  &models.PurchaseRequest{CorporationNumber: testCorporation},
		},
		{
			name: "unknown deal",
			req:  &models.PurchaseRequest{ClientID: testClientID, CorporationNumber: testCorporation, Deal: utils.Ptr(models.Deal(5))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			svc := env.service(nil)

			_, err := svc.PurchaseAndSave(context.Background(), tt.req)
			assert.ErrorIs(t, err, e.ErrInvalidInput)

			purchases, _ := env.provider.calls()
			assert.Zero(t, purchases)
			assert.Equal(t, float64(1), env.outcome(metrics.OutcomeInvalid))
		})
	}
}

func TestCreditCheckService_PurchaseAndSaveDuplicate(t *testing.T) {
	tests := []struct {
		name      string
		existing  models.Status
		duplicate bool
	}{
		{name: "pending check blocks", existing: models.StatusPending, duplicate: true},
		{name: "successful check blocks", existing: models.StatusSuccess, duplicate: true},
		{name: "failed check allows retry", existing: models.StatusError, duplicate: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			svc := env.service(nil)
			ctx := context.Background()

			require.NoError(t, env.repo.CreateCreditCheck(ctx, &models.CreditCheck{
				ID:                uuid.Must(uuid.NewV7()),
				ClientID:          testClientID,
				CorporationNumber: testCorporation,
				Status:            tt.existing,
			}))

			if !tt.duplicate {
				env.producer.wg.Add(1)
			}
			_, err := svc.PurchaseAndSave(ctx, validRequest())
			purchases, details := env.provider.calls()

			if tt.duplicate {
				assert.ErrorIs(t, err, e.ErrDuplicatePurchase)
				assert.Zero(t, purchases)
				assert.Zero(t, details)
				assert.Equal(t, float64(1), env.outcome(metrics.OutcomeDuplicate))

				checks, err := env.repo.ListCreditChecks(ctx, testClientID, models.CreditCheckFilter{})
				require.NoError(t, err)
				assert.Len(t, checks, 1, "no record must be created for a duplicate")
				return
			}

			require.NoError(t, err)
			env.producer.wg.Wait()
			assert.Equal(t, 1, purchases)
		})
	}
}

func TestCreditCheckService_PurchaseAndSaveOtherClientNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(nil)
	ctx := context.Background()

	require.NoError(t, env.repo.CreateCreditCheck(ctx, &models.CreditCheck{
		ID:                uuid.Must(uuid.NewV7()),
		ClientID:          testClientID + 1,
		CorporationNumber: testCorporation,
		Status:            models.StatusSuccess,
	}))

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(ctx, validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()
	assert.Equal(t, testClientID, cc.ClientID)
}

func TestCreditCheckService_PurchaseAndSavePurchaseFailure(t *testing.T) {
	env := newTestEnv(t)
	providerErr := &provider.APIError{StatusCode: 402, Code: "insufficient_points"}
	env.provider.purchase = func(context.Context, provider.PurchaseRequest) (*provider.PurchaseResult, error) {
		return nil, providerErr
	}
	svc := env.service(nil)
	ctx := context.Background()

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(ctx, validRequest())
	env.producer.wg.Wait()

	assert.Nil(t, cc)
	assert.ErrorIs(t, err, e.ErrExternalPurchase)
	var apiErr *provider.APIError
	assert.True(t, errors.As(err, &apiErr))

	_, details := env.provider.calls()
	assert.Zero(t, details)

	checks, err := env.repo.ListCreditChecks(ctx, testClientID, models.CreditCheckFilter{})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, models.StatusError, checks[0].Status)
	assert.Nil(t, checks[0].ReportID)

	infos, err := env.repo.ListInfos(ctx, testClientID, models.InfoFilter{})
	require.NoError(t, err)
	assert.Empty(t, infos)

	assert.Equal(t, []events.EventType{events.CreditCheckFailed}, env.producer.events())
	assert.Equal(t, float64(1), env.outcome(metrics.OutcomePurchaseError))
	assert.Equal(t, 1, env.logs.FilterMessage("Credit check purchase failed").Len())
}

func TestCreditCheckService_PurchaseAndSaveDetailFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.getDetail = func(context.Context, int64, bool) (*provider.Detail, error) {
		return nil, errors.New("provider unavailable")
	}
	svc := env.service(nil)

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	stored, err := env.repo.GetCreditCheck(context.Background(), cc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.Equal(t, int64(42), *stored.ReportID)
	assert.Nil(t, stored.Verdict)
	assert.Nil(t, stored.CompanyName)
	assert.Nil(t, stored.DocumentPath)
	assert.Nil(t, stored.PurchasedAt)
	assert.Empty(t, stored.Infos)

	entries := env.logs.FilterMessage("Credit check detail fetch failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ContextMap()["report_id"])
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.EnrichmentFailuresTotal.WithLabelValues(metrics.StepDetail)))
	assert.Equal(t, float64(1), env.outcome(metrics.OutcomeSuccess))
}

func TestCreditCheckService_PurchaseAndSaveUploadFailure(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(env *testEnv)
		document string
	}{
		{
			name:  "store error",
			setup: func(env *testEnv) { env.store.uploadErr = errors.New("bucket unavailable") },
		},
		{
			name: "undecodable document",
			setup: func(env *testEnv) {
				d := sampleDetail()
				d.DocumentBase64 = "not base64!"
				env.provider.getDetail = detailReturning(d)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env)
			svc := env.service(nil)

			env.producer.wg.Add(1)
			cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
			require.NoError(t, err)
			env.producer.wg.Wait()

			stored, err := env.repo.GetCreditCheck(context.Background(), cc.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusSuccess, stored.Status)
			assert.Nil(t, stored.DocumentPath)
			require.NotNil(t, stored.Verdict)
			assert.Equal(t, models.VerdictLow, *stored.Verdict)
			assert.Len(t, stored.Infos, 2)

			assert.Equal(t, 1, env.logs.FilterMessage("Credit check document upload failed").Len())
			assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.EnrichmentFailuresTotal.WithLabelValues(metrics.StepUpload)))
		})
	}
}

func TestCreditCheckService_PurchaseAndSaveNoDocument(t *testing.T) {
	env := newTestEnv(t)
	d := sampleDetail()
	d.DocumentBase64 = ""
	d.Result = "maybe"
	env.provider.getDetail = detailReturning(d)
	svc := env.service(nil)

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	assert.Nil(t, cc.DocumentPath)
	assert.Nil(t, cc.Verdict, "unknown result leaves the verdict empty")
	assert.Equal(t, 1, env.logs.FilterMessage("Unknown credit check result").Len())
	assert.Zero(t, env.logs.FilterMessage("Credit check document upload failed").Len())
}

func TestCreditCheckService_PurchaseAndSaveInfoExpansion(t *testing.T) {
	env := newTestEnv(t)
	d := sampleDetail()
	d.Infos = []provider.Info{
		{ReceivedDate: date("2025-10-01"), Tags: []provider.Tag{{Name: "a"}, {Name: "b"}, {Name: "c"}}},
		{ReceivedDate: date("2025-11-01"), Tags: []provider.Tag{{Name: "d"}}},
		{ReceivedDate: date("2025-12-01")},
	}
	env.provider.getDetail = detailReturning(d)
	svc := env.service(nil)

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	stored, err := env.repo.GetCreditCheck(context.Background(), cc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Infos, 4)
	assert.Equal(t, "d", stored.Infos[0].Tag, "infos are ordered by received date, newest first")
}

func TestCreditCheckService_PurchaseAndSavePersistFailure(t *testing.T) {
	env := newTestEnv(t)
	repo := &failingUpdateRepository{Repository: env.repo, err: errors.New("connection reset")}
	svc := env.service(repo)

	cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
	assert.Nil(t, cc)
	assert.ErrorIs(t, err, e.ErrPersist)
	assert.Contains(t, err.Error(), "report 42")

	entries := env.logs.FilterMessage("Failed to persist purchased credit check").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ContextMap()["report_id"])
	assert.Equal(t, float64(1), env.outcome(metrics.OutcomePersistError))
	assert.Empty(t, env.producer.events())
}

func TestCreditCheckService_PurchaseAndSaveInfosRejected(t *testing.T) {
	env := newTestEnv(t)
	// SQLite ignores varchar sizes; reject over-long tags the way Postgres does.
	require.NoError(t, env.repo.Exec(context.Background(), `
		CREATE TRIGGER credit_check_info_tag_size BEFORE INSERT ON credit_check_info
		WHEN length(NEW.tag) > 100
		BEGIN SELECT RAISE(ABORT, 'value too long for type character varying(100)'); END`))

	d := sampleDetail()
	d.Infos[0].Tags[0].Name = strings.Repeat("x", 101)
	env.provider.getDetail = detailReturning(d)
	svc := env.service(nil)

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()
	assert.Empty(t, cc.Infos)

	stored, err := env.repo.GetCreditCheck(context.Background(), cc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	require.NotNil(t, stored.ReportID)
	assert.Equal(t, int64(42), *stored.ReportID)
	require.NotNil(t, stored.Verdict)
	assert.Equal(t, models.VerdictLow, *stored.Verdict)
	assert.NotNil(t, stored.DocumentPath)
	assert.Empty(t, stored.Infos, "info rows are inserted all or nothing")

	assert.Equal(t, 1, env.logs.FilterMessage("Credit check infos save failed").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.EnrichmentFailuresTotal.WithLabelValues(metrics.StepInfos)))
	assert.Equal(t, float64(1), env.outcome(metrics.OutcomeSuccess))
	assert.Equal(t, []events.EventType{events.CreditCheckPurchased}, env.producer.events())

	_, err = svc.PurchaseAndSave(context.Background(), validRequest())
	assert.ErrorIs(t, err, e.ErrDuplicatePurchase)
	assert.NoError(t, svc.DeleteCreditCheck(context.Background(), testClientID, cc.ID))
}

func TestCreditCheckService_PurchaseAndSaveDetachedFromCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.provider.purchase = func(context.Context, provider.PurchaseRequest) (*provider.PurchaseResult, error) {
		// The caller goes away once the report is bought.
		cancel()
		return &provider.PurchaseResult{ReportID: 42}, nil
	}
	env.provider.getDetail = func(ctx context.Context, _ int64, _ bool) (*provider.Detail, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return sampleDetail(), nil
	}
	svc := env.service(nil)

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(ctx, validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	stored, err := env.repo.GetCreditCheck(context.Background(), cc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.NotNil(t, stored.Verdict)
	assert.NotNil(t, stored.DocumentPath)
}

func TestCreditCheckService_PurchaseAndSaveLockTimeout(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(nil, WithLockWait(50*time.Millisecond))
	ctx := context.Background()

	held, err := env.locker.Obtain(ctx, lockKey(testClientID), time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	_, err = svc.PurchaseAndSave(ctx, validRequest())
	assert.ErrorIs(t, err, e.ErrLockTimeout)

	purchases, _ := env.provider.calls()
	assert.Zero(t, purchases)
	checks, err := env.repo.ListCreditChecks(ctx, testClientID, models.CreditCheckFilter{})
	require.NoError(t, err)
	assert.Empty(t, checks)
	assert.Equal(t, float64(1), env.outcome(metrics.OutcomeLockTimeout))
}

func TestCreditCheckService_PurchaseAndSaveConcurrent(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	env.provider.purchase = func(context.Context, provider.PurchaseRequest) (*provider.PurchaseResult, error) {
		entered <- struct{}{}
		<-release
		return &provider.PurchaseResult{ReportID: 42}, nil
	}
	svc := env.service(nil)

	type result struct {
		cc  *models.CreditCheck
		err error
	}
	results := make(chan result, 2)
	env.producer.wg.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			cc, err := svc.PurchaseAndSave(context.Background(), validRequest())
			results <- result{cc, err}
		}()
	}

	<-entered
	// The second caller is parked on the lock while the first purchase is in flight.
	select {
	case <-entered:
		t.Fatal("two purchases ran concurrently for the same client")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)

	var successes, duplicates int
	for i := 0; i < 2; i++ {
		r := <-results
		switch {
		case r.err == nil:
			successes++
		case errors.Is(r.err, e.ErrDuplicatePurchase):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	env.producer.wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, duplicates)
	purchases, _ := env.provider.calls()
	assert.Equal(t, 1, purchases)
}

func TestCreditCheckService_GetCreditCheck(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(nil)
	ctx := context.Background()

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(ctx, validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	tests := []struct {
		name     string
		clientID int64
		id       uuid.UUID
		wantErr  error
	}{
		{name: "owner", clientID: testClientID, id: cc.ID},
		{name: "other client", clientID: testClientID + 1, id: cc.ID, wantErr: e.ErrNotFound},
		{name: "unknown id", clientID: testClientID, id: uuid.New(), wantErr: e.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.GetCreditCheck(ctx, tt.clientID, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, cc.ID, got.ID)
			assert.Len(t, got.Infos, 2)
		})
	}
}

func TestCreditCheckService_ListCreditChecks(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(nil)
	ctx := context.Background()

	for i, status := range []models.Status{models.StatusSuccess, models.StatusError} {
		require.NoError(t, env.repo.CreateCreditCheck(ctx, &models.CreditCheck{
			ID:                uuid.Must(uuid.NewV7()),
			ClientID:          testClientID,
			CorporationNumber: fmt.Sprintf("123456789012%d", i),
			Status:            status,
		}))
	}

	all, err := svc.ListCreditChecks(ctx, testClientID, models.CreditCheckFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := svc.ListCreditChecks(ctx, testClientID, models.CreditCheckFilter{Status: models.StatusError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "1234567890121", failed[0].CorporationNumber)

	_, err = svc.ListCreditChecks(ctx, testClientID, models.CreditCheckFilter{CorporationNumber: "abc"})
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

func TestCreditCheckService_ListRiskInfos(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(nil)
	ctx := context.Background()

	env.producer.wg.Add(1)
	_, err := svc.PurchaseAndSave(ctx, validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	infos, err := svc.ListRiskInfos(ctx, testClientID, models.InfoFilter{Tag: "personnel"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "new CEO", infos[0].Description)

	none, err := svc.ListRiskInfos(ctx, testClientID+1, models.InfoFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.ListRiskInfos(ctx, testClientID, models.InfoFilter{CorporationNumber: "12"})
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

func TestCreditCheckService_GetDocument(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(nil)
	ctx := context.Background()

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(ctx, validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	doc, err := svc.GetDocument(ctx, testClientID, cc.ID)
	require.NoError(t, err)
	assert.Equal(t, testPDF, doc)

	_, err = svc.GetDocument(ctx, testClientID+1, cc.ID)
	assert.ErrorIs(t, err, e.ErrNotFound)

	noDoc := &models.CreditCheck{
		ID:                uuid.Must(uuid.NewV7()),
		ClientID:          testClientID,
		CorporationNumber: "9999999999999",
		Status:            models.StatusError,
	}
	require.NoError(t, env.repo.CreateCreditCheck(ctx, noDoc))
	_, err = svc.GetDocument(ctx, testClientID, noDoc.ID)
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestCreditCheckService_DeleteCreditCheck(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(nil)
	ctx := context.Background()

	env.producer.wg.Add(1)
	cc, err := svc.PurchaseAndSave(ctx, validRequest())
	require.NoError(t, err)
	env.producer.wg.Wait()

	assert.ErrorIs(t, svc.DeleteCreditCheck(ctx, testClientID+1, cc.ID), e.ErrNotFound)

	require.NoError(t, svc.DeleteCreditCheck(ctx, testClientID, cc.ID))
	_, err = svc.GetCreditCheck(ctx, testClientID, cc.ID)
	assert.ErrorIs(t, err, e.ErrNotFound)

	infos, err := env.repo.ListInfos(ctx, testClientID, models.InfoFilter{})
	require.NoError(t, err)
	assert.Empty(t, infos)

	pending := &models.CreditCheck{
		ID:                uuid.Must(uuid.NewV7()),
		ClientID:          testClientID,
		CorporationNumber: testCorporation,
		Status:            models.StatusPending,
	}
	require.NoError(t, env.repo.CreateCreditCheck(ctx, pending))
	assert.ErrorIs(t, svc.DeleteCreditCheck(ctx, testClientID, pending.ID), e.ErrInvalidInput)
}
