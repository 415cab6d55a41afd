package main

import (
	"context"

	"github.com/corestratum/eventcore"
)

// LedgerService orchestrates command handling: load, decide, save.
type LedgerService struct {
	repo *LedgerRepository
}

// NewLedgerService wires a repository into a service.
func NewLedgerService(repo *LedgerRepository) *LedgerService {
	return &LedgerService{repo: repo}
}

// Handle executes a command end to end: load the target account,
// route it to domain logic, and persist whatever it raised.
func (s *LedgerService) Handle(ctx context.Context, cmd any, md eventcore.Metadata) error {
	id := extractAccountID(cmd)
	l, err := s.repo.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := l.Handle(cmd); err != nil {
		return err
	}
	return s.repo.Save(ctx, l, md)
}
