package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/reliefwallet/credential-engine/internal/database"
	"github.com/reliefwallet/credential-engine/internal/gateway"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/repository"
)

// fakeTx runs the function without a transaction; the mock repositories
// return themselves from WithTx.
type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockCaseRepo struct {
	mock.Mock
}

func (m *mockCaseRepo) FindByID(ctx context.Context, id string) (*model.Case, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *mockCaseRepo) FindApprovedByID(ctx context.Context, id string) (*model.Case, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *mockCaseRepo) FindLatestByIDNumber(ctx context.Context, idNumber string, statuses []string) (*model.Case, error) {
	args := m.Called(ctx, idNumber, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *mockCaseRepo) UpdateStatus(ctx context.Context, id string, status string, at time.Time) error {
	args := m.Called(ctx, id, status, at)
	return args.Error(0)
}

func (m *mockCaseRepo) WithTx(tx *sqlx.Tx) repository.CaseRepository {
	return m
}

type mockProfileRepo struct {
	mock.Mock
}

func (m *mockProfileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockProfileRepo) FindByIDNumber(ctx context.Context, idNumber string) (*model.Profile, error) {
	args := m.Called(ctx, idNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockProfileRepo) UpsertByEmail(ctx context.Context, params model.UpsertProfileParams) (*model.Profile, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockProfileRepo) UpsertByIDNumber(ctx context.Context, params model.UpsertProfileParams) (*model.Profile, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockProfileRepo) WithTx(tx *sqlx.Tx) repository.ProfileRepository {
	return m
}

type mockCredentialRepo struct {
	mock.Mock
}

func (m *mockCredentialRepo) Create(ctx context.Context, params model.CreateCredentialRecordParams) (*model.CredentialRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockCredentialRepo) FindByID(ctx context.Context, id string) (*model.CredentialRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockCredentialRepo) FindByTransactionID(ctx context.Context, transactionID string) (*model.CredentialRecord, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockCredentialRepo) FindLiveByCaseID(ctx context.Context, caseID string) (*model.CredentialRecord, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockCredentialRepo) FindDisbursedByCaseID(ctx context.Context, caseID string) (*model.CredentialRecord, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockCredentialRepo) Transition(ctx context.Context, params model.TransitionParams) (*model.CredentialRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockCredentialRepo) CountByStatus(ctx context.Context) (map[model.CredentialStatus]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.CredentialStatus]int), args.Error(1)
}

func (m *mockCredentialRepo) WithTx(tx *sqlx.Tx) repository.CredentialRepository {
	return m
}

type mockHistoryRepo struct {
	mock.Mock
}

func (m *mockHistoryRepo) Append(ctx context.Context, params model.CreateHistoryEntryParams) (*model.CredentialHistoryEntry, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialHistoryEntry), args.Error(1)
}

func (m *mockHistoryRepo) ListByCaseID(ctx context.Context, caseID string, limit, offset int) ([]*model.CredentialHistoryEntry, error) {
	args := m.Called(ctx, caseID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CredentialHistoryEntry), args.Error(1)
}

func (m *mockHistoryRepo) CountByAction(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.GroupCount), args.Error(1)
}

func (m *mockHistoryRepo) CountByOrganization(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.GroupCount), args.Error(1)
}

func (m *mockHistoryRepo) CountByCredentialType(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.GroupCount), args.Error(1)
}

func (m *mockHistoryRepo) WithTx(tx *sqlx.Tx) repository.HistoryRepository {
	return m
}

type mockAuthority struct {
	mock.Mock
}

func (m *mockAuthority) IssueCredential(ctx context.Context, req gateway.IssueRequest) (*gateway.IssueResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.IssueResult), args.Error(1)
}

func (m *mockAuthority) CheckClaimStatus(ctx context.Context, transactionID string) (*gateway.ClaimResult, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ClaimResult), args.Error(1)
}

func (m *mockAuthority) CreatePresentationRequest(ctx context.Context, req gateway.PresentationRequest) (*gateway.PresentationSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PresentationSession), args.Error(1)
}

func (m *mockAuthority) ResolvePresentation(ctx context.Context, transactionID string) (*gateway.PresentationResult, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PresentationResult), args.Error(1)
}

func (m *mockAuthority) LastServedByMock() bool {
	return false
}

type sentNotification struct {
	Target string
	Kind   string
	Data   any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Notify(ctx context.Context, userID, kind string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{Target: userID, Kind: kind, Data: data})
}

func (f *fakeNotifier) SessionResolved(ctx context.Context, sessionID string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{Target: sessionID, Kind: "session_resolved", Data: data})
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Kind)
	}
	return out
}
