package main

// OpenAccountCommand represents an intent to create a new ledger account.
type OpenAccountCommand struct {
	AccountID string
	Owner     string
	Initial   int64
}

// DepositCommand represents an intent to increase an account's balance.
type DepositCommand struct {
	AccountID string
	Amount    int64
}

// WithdrawCommand represents an intent to decrease an account's balance.
type WithdrawCommand struct {
	AccountID string
	Amount    int64
}

func extractAccountID(cmd any) string {
	switch c := cmd.(type) {
	case OpenAccountCommand:
		return c.AccountID
	case DepositCommand:
		return c.AccountID
	case WithdrawCommand:
		return c.AccountID
	default:
		return ""
	}
}
