package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/notify"
	"github.com/reliefwallet/credential-engine/internal/service"
)

type mockIssuer struct{ mock.Mock }

func (m *mockIssuer) Issue(ctx context.Context, caseID string) (*service.IssueResult, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IssueResult), args.Error(1)
}

func (m *mockIssuer) Current(ctx context.Context, caseID string) (*model.CredentialRecord, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

type mockClaimPoller struct{ mock.Mock }

func (m *mockClaimPoller) Poll(ctx context.Context, transactionID string) (*service.PollResult, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PollResult), args.Error(1)
}

type mockHistoryLister struct{ mock.Mock }

func (m *mockHistoryLister) List(ctx context.Context, caseID string, limit, offset int) ([]*model.CredentialHistoryEntry, error) {
	args := m.Called(ctx, caseID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CredentialHistoryEntry), args.Error(1)
}

type mockPresentations struct{ mock.Mock }

func (m *mockPresentations) CreatePresentationSession(ctx context.Context, serviceRef string) (*service.PresentationSessionResult, error) {
	args := m.Called(ctx, serviceRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PresentationSessionResult), args.Error(1)
}

func (m *mockPresentations) Resolve(ctx context.Context, transactionID string, caller service.CallerContext) (*service.ResolveResult, error) {
	args := m.Called(ctx, transactionID, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ResolveResult), args.Error(1)
}

type mockLoginSessions struct{ mock.Mock }

func (m *mockLoginSessions) CreateSession(ctx context.Context) (*service.CreateSessionResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CreateSessionResult), args.Error(1)
}

func (m *mockLoginSessions) GetStatus(ctx context.Context, id string) (*service.SessionStatusResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SessionStatusResult), args.Error(1)
}

func (m *mockLoginSessions) Callback(ctx context.Context, id string, cb service.LoginCallback) (*service.SessionStatusResult, error) {
	args := m.Called(ctx, id, cb)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SessionStatusResult), args.Error(1)
}

type mockAdmin struct{ mock.Mock }

func (m *mockAdmin) Reject(ctx context.Context, caseID, reason, actor string) (*model.CredentialRecord, error) {
	args := m.Called(ctx, caseID, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockAdmin) GetStats(ctx context.Context, filter model.HistoryFilter) (*service.Stats, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Stats), args.Error(1)
}

// fakeBroker hands out subscribers whose channels the test drives.
type fakeBroker struct {
	subscribed   chan *notify.Subscriber
	unsubscribed chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subscribed:   make(chan *notify.Subscriber, 1),
		unsubscribed: make(chan struct{}, 1),
	}
}

func (b *fakeBroker) Subscribe(channel string) *notify.Subscriber {
	sub := &notify.Subscriber{
		Channel: channel,
		Events:  make(chan notify.Event, 4),
		Done:    make(chan struct{}),
	}
	b.subscribed <- sub
	return sub
}

func (b *fakeBroker) Unsubscribe(sub *notify.Subscriber) {
	b.unsubscribed <- struct{}{}
}
