package main

// AccountOpened is emitted when a new ledger account is created.
type AccountOpened struct {
	AccountID string
	Owner     string
	Initial   int64
}

func (AccountOpened) EventType() string { return "AccountOpened" }

// FundsDeposited is emitted when money is added to an account.
type FundsDeposited struct {
	Amount int64
}

func (FundsDeposited) EventType() string { return "FundsDeposited" }

// FundsWithdrawn is emitted when money is removed from an account.
type FundsWithdrawn struct {
	Amount int64
}

func (FundsWithdrawn) EventType() string { return "FundsWithdrawn" }
