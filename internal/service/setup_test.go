package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/repository"
	"github.com/straye-as/salesflow-api/internal/service"
	"github.com/straye-as/salesflow-api/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dealPrefixes = []string{"فرصة - ", "فرصة: ", "Opportunity - ", "Deal - "}

type fakeQuoteBuilder struct {
	local       *service.LocalQuoteBuilder
	err         error
	drafts      []service.QuoteDraft
	afterCreate func(draft service.QuoteDraft)
}

func (b *fakeQuoteBuilder) CreateQuote(ctx context.Context, draft service.QuoteDraft) (uuid.UUID, error) {
	b.drafts = append(b.drafts, draft)
	if b.err != nil {
		return uuid.Nil, b.err
	}
	id, err := b.local.CreateQuote(ctx, draft)
	if err == nil && b.afterCreate != nil {
		b.afterCreate(draft)
	}
	return id, err
}

type fakeInvoiceRequester struct {
	err          error
	requests     []service.InvoiceRequest
	afterRequest func(req service.InvoiceRequest)
}

func (r *fakeInvoiceRequester) RequestInvoice(ctx context.Context, req service.InvoiceRequest) (string, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return "", r.err
	}
	if r.afterRequest != nil {
		r.afterRequest(req)
	}
	return service.InvoiceRequestRef(req.QuoteID), nil
}

type fakeInvoiceSender struct {
	err        error
	deliveries []service.InvoiceDelivery
	afterSend  func(delivery service.InvoiceDelivery)
}

func (s *fakeInvoiceSender) SendInvoice(ctx context.Context, delivery service.InvoiceDelivery) error {
	s.deliveries = append(s.deliveries, delivery)
	if s.err == nil && s.afterSend != nil {
		s.afterSend(delivery)
	}
	return s.err
}

type memoryDocuments struct {
	mu       sync.Mutex
	files    map[string][]byte
	afterPut func(key string)
}

func newMemoryDocuments() *memoryDocuments {
	return &memoryDocuments{files: map[string][]byte{}}
}

func (m *memoryDocuments) Put(ctx context.Context, key, contentType string, data io.Reader) (int64, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.files[key] = b
	m.mu.Unlock()
	if m.afterPut != nil {
		m.afterPut(key)
	}
	return int64(len(b)), nil
}

func (m *memoryDocuments) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memoryDocuments) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

// testEnv wires every service against one SQLite database
type testEnv struct {
	db        *gorm.DB
	leads     *repository.LeadRepository
	opps      *repository.OpportunityRepository
	quotes    *repository.QuoteRepository
	orgs      *repository.OrganizationRepository
	audit     *service.AuditService
	accounts  *service.AccountService
	lead      *service.LeadService
	pipeline  *service.PipelineService
	quote     *service.QuoteService
	stepper   *service.StepperService
	builder   *fakeQuoteBuilder
	requester *fakeInvoiceRequester
	sender    *fakeInvoiceSender
	documents *memoryDocuments
}

func setupServices(t *testing.T, policy service.Policy) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	env := &testEnv{
		db:        db,
		leads:     repository.NewLeadRepository(db),
		opps:      repository.NewOpportunityRepository(db),
		quotes:    repository.NewQuoteRepository(db),
		orgs:      repository.NewOrganizationRepository(db),
		requester: &fakeInvoiceRequester{},
		sender:    &fakeInvoiceSender{},
		documents: newMemoryDocuments(),
	}
	env.builder = &fakeQuoteBuilder{local: service.NewLocalQuoteBuilder(env.quotes, logger)}
	env.audit = service.NewAuditService(
		repository.NewStageTransitionRepository(db),
		repository.NewActivityRepository(db),
		logger,
	)
	env.accounts = service.NewAccountService(env.orgs, dealPrefixes, logger)
	env.lead = service.NewLeadService(db, env.leads, env.opps, env.accounts, env.audit, policy, logger)
	env.pipeline = service.NewPipelineService(db, env.opps, env.quotes, env.accounts, env.audit, env.builder, logger)
	env.quote = service.NewQuoteService(db, env.quotes, env.opps, env.audit, logger)
	env.stepper = service.NewStepperService(db, env.quotes, env.opps, env.orgs, env.audit,
		env.requester, env.sender, env.documents, logger)
	return env
}

func (e *testEnv) countRows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func (e *testEnv) activitiesOf(t *testing.T, opportunityID uuid.UUID, activityType domain.ActivityType) []domain.Activity {
	t.Helper()
	var list []domain.Activity
	if err := e.db.Where("opportunity_id = ? AND activity_type = ?", opportunityID, activityType).Find(&list).Error; err != nil {
		t.Fatalf("load activities: %v", err)
	}
	return list
}

// bumpVersion simulates a concurrent writer so the next versioned update conflicts
func (e *testEnv) bumpVersion(t *testing.T, model interface{}, id uuid.UUID) {
	t.Helper()
	if err := e.db.Model(model).Where("id = ?", id).UpdateColumn("version", gorm.Expr("version + 1")).Error; err != nil {
		t.Fatalf("bump version: %v", err)
	}
}

func (m *memoryDocuments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }
