package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/repository"
)

// HistoryService reads the credential audit trail. Writes happen inside the
// orchestrators' transactions through appendHistory; entries are never
// updated or deleted.
type HistoryService struct {
	history repository.HistoryRepository
}

func NewHistoryService(history repository.HistoryRepository) *HistoryService {
	return &HistoryService{history: history}
}

// List returns a case's entries, newest first.
func (s *HistoryService) List(ctx context.Context, caseID string, limit, offset int) ([]*model.CredentialHistoryEntry, error) {
	entries, err := s.history.ListByCaseID(ctx, caseID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if entries == nil {
		entries = []*model.CredentialHistoryEntry{}
	}
	return entries, nil
}

func (s *HistoryService) Statistics(ctx context.Context, filter model.HistoryFilter) (*model.Statistics, error) {
	var byAction, byOrg, byType []model.GroupCount

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byAction, err = s.history.CountByAction(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		byOrg, err = s.history.CountByOrganization(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		byType, err = s.history.CountByCredentialType(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.Database(err)
	}

	stats := &model.Statistics{
		ByOrganization: groupMap(byOrg),
		ByType:         groupMap(byType),
	}
	for _, c := range byAction {
		switch model.HistoryAction(c.Key) {
		case model.HistoryActionIssued:
			stats.IssuedCount = c.Count
		case model.HistoryActionClaimed:
			stats.ClaimedCount = c.Count
		case model.HistoryActionVerified:
			stats.VerifiedCount = c.Count
		}
	}
	return stats, nil
}

func groupMap(counts []model.GroupCount) map[string]int {
	m := make(map[string]int, len(counts))
	for _, c := range counts {
		if c.Key == "" {
			continue
		}
		m[c.Key] = c.Count
	}
	return m
}

// appendHistory is the only write path into the audit trail. repo may be
// bound to a transaction; a duplicate transaction id is not an error.
func appendHistory(ctx context.Context, repo repository.HistoryRepository, params model.CreateHistoryEntryParams) error {
	if !params.ActionType.Valid() {
		return apperrors.InvalidInput("actionType", fmt.Sprintf("unknown action %q", params.ActionType))
	}
	if params.CaseID == "" {
		return apperrors.MissingRequired("caseId")
	}
	if params.TransactionID == "" {
		return apperrors.MissingRequired("transactionId")
	}
	_, err := repo.Append(ctx, params)
	return err
}
