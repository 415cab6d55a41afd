package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/projection"
)

// ledgerStreamPrefix is the fixed portion of every ledger stream id this
// demo produces: "ledgerdemo.ledger.v1.default-". Deposits and
// withdrawals don't carry the account id in their payload, so the
// projection recovers it from the stream id instead.
var ledgerStreamPrefix = eventcore.CategoryPrefix("ledgerdemo", "ledger", 1) + "default-"

func accountIDFromStream(ev eventcore.Event) string {
	return strings.TrimPrefix(ev.StreamID, ledgerStreamPrefix)
}

// registerLedgerBalanceHandlers wires the ledger's domain events into a
// Registry that maintains the ledger_balances read model: one row per
// account, upserted on open and adjusted on every deposit/withdrawal.
func registerLedgerBalanceHandlers(reg *projection.Registry) {
	reg.Register("AccountOpened", func(ctx context.Context, tx pgx.Tx, decoded any, ev eventcore.Event) error {
		evt, ok := decoded.(AccountOpened)
		if !ok {
			return fmt.Errorf("ledgerdemo: projection: unexpected payload type %T for AccountOpened", decoded)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO ledger_balances (account_id, owner, balance, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (account_id) DO NOTHING`,
			evt.AccountID, evt.Owner, evt.Initial,
		)
		return err
	})

	reg.Register("FundsDeposited", func(ctx context.Context, tx pgx.Tx, decoded any, ev eventcore.Event) error {
		evt, ok := decoded.(FundsDeposited)
		if !ok {
			return fmt.Errorf("ledgerdemo: projection: unexpected payload type %T for FundsDeposited", decoded)
		}
		_, err := tx.Exec(ctx,
			`UPDATE ledger_balances SET balance = balance + $2, updated_at = now() WHERE account_id = $1`,
			accountIDFromStream(ev), evt.Amount,
		)
		return err
	})

	reg.Register("FundsWithdrawn", func(ctx context.Context, tx pgx.Tx, decoded any, ev eventcore.Event) error {
		evt, ok := decoded.(FundsWithdrawn)
		if !ok {
			return fmt.Errorf("ledgerdemo: projection: unexpected payload type %T for FundsWithdrawn", decoded)
		}
		_, err := tx.Exec(ctx,
			`UPDATE ledger_balances SET balance = balance - $2, updated_at = now() WHERE account_id = $1`,
			accountIDFromStream(ev), evt.Amount,
		)
		return err
	})
}
