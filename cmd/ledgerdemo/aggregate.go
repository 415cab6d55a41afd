package main

import (
	"fmt"

	"github.com/corestratum/eventcore"
)

// Ledger is the aggregate root for one account: it enforces the domain
// rules (no overdraft, no double-open) and raises the events that record
// their outcome. It embeds eventcore.Base for version bookkeeping and
// pending-event buffering, and supplies its own Apply switch.
type Ledger struct {
	eventcore.Base
	owner   string
	balance int64
	opened  bool
}

// NewLedger creates a Ledger bound to streamID, ready to either Handle
// commands fresh or be hydrated from a repository.LoadResult.
func NewLedger(streamID string) *Ledger {
	l := &Ledger{}
	l.Init(streamID, l.apply, nil)
	return l
}

func (l *Ledger) apply(e any) {
	switch ev := e.(type) {
	case AccountOpened:
		l.owner = ev.Owner
		l.balance = ev.Initial
		l.opened = true
	case FundsDeposited:
		l.balance += ev.Amount
	case FundsWithdrawn:
		l.balance -= ev.Amount
	}
}

// Balance returns the account's current balance.
func (l *Ledger) Balance() int64 { return l.balance }

// Owner returns the account owner's name.
func (l *Ledger) Owner() string { return l.owner }

// Handle routes a command to domain logic and raises the resulting
// event, or returns an error without mutating state.
func (l *Ledger) Handle(cmd any) error {
	switch c := cmd.(type) {
	case OpenAccountCommand:
		if l.opened {
			return fmt.Errorf("ledgerdemo: account already opened")
		}
		if c.AccountID == "" {
			return fmt.Errorf("ledgerdemo: empty account id")
		}
		if c.Initial < 0 {
			return fmt.Errorf("ledgerdemo: initial balance cannot be negative")
		}
		return l.Raise(AccountOpened{AccountID: c.AccountID, Owner: c.Owner, Initial: c.Initial})

	case DepositCommand:
		if !l.opened {
			return fmt.Errorf("ledgerdemo: account not opened")
		}
		if c.Amount <= 0 {
			return fmt.Errorf("ledgerdemo: invalid deposit amount")
		}
		return l.Raise(FundsDeposited{Amount: c.Amount})

	case WithdrawCommand:
		if !l.opened {
			return fmt.Errorf("ledgerdemo: account not opened")
		}
		if c.Amount <= 0 {
			return fmt.Errorf("ledgerdemo: invalid withdrawal amount")
		}
		if c.Amount > l.balance {
			return fmt.Errorf("ledgerdemo: insufficient funds")
		}
		return l.Raise(FundsWithdrawn{Amount: c.Amount})
	}

	return fmt.Errorf("ledgerdemo: unknown command type %T", cmd)
}

var _ eventcore.Aggregate = (*Ledger)(nil)
