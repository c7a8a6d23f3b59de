package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Row helpers shared by the settlement operations. Every mutation runs
// inside one transaction owned by the caller; these helpers never commit.

func balanceNumeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

func balanceFromNumeric(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.Int == nil {
		return 0, fmt.Errorf("null balance")
	}
	v := n.Int
	if n.Exp > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		v = new(big.Int).Mul(v, scale)
	} else if n.Exp < 0 {
		return 0, fmt.Errorf("fractional balance %s", n.Int)
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, ErrArithmetic
	}
	return v.Uint64(), nil
}

// deltaString renders a journal delta as a decimal string. Postgres may
// return trailing zero groups folded into the exponent, so the base-10
// shift has to be applied before printing.
func deltaString(n pgtype.Numeric) (string, error) {
	if !n.Valid || n.Int == nil {
		return "", fmt.Errorf("null delta")
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		v.Mul(v, scale)
	} else if n.Exp < 0 {
		return "", fmt.Errorf("fractional delta %s", n.Int)
	}
	return v.String(), nil
}

func signedDelta(amount uint64, negative bool) pgtype.Numeric {
	v := new(big.Int).SetUint64(amount)
	if negative {
		v.Neg(v)
	}
	return pgtype.Numeric{Int: v, Valid: true}
}

func loadGameTx(ctx context.Context, tx pgx.Tx) (Game, error) {
	var g Game
	var seed int16
	err := tx.QueryRow(ctx, `
		SELECT seed, authority_id, vault_account
		FROM ledger.game
		WHERE id = 1
	`).Scan(&seed, &g.Authority, &g.VaultAccount)
	if err == pgx.ErrNoRows {
		return g, ErrNotInitialized
	}
	if err != nil {
		return g, err
	}
	g.Seed = byte(seed)
	return g, nil
}

func accountForUpdateTx(ctx context.Context, tx pgx.Tx, owner string) (Account, error) {
	acc := Account{Owner: owner}
	var n pgtype.Numeric
	err := tx.QueryRow(ctx, `
		SELECT balance
		FROM ledger.accounts
		WHERE owner_id = $1
		FOR UPDATE
	`, owner).Scan(&n)
	if err == pgx.ErrNoRows {
		return acc, fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}
	if err != nil {
		return acc, err
	}
	acc.Balance, err = balanceFromNumeric(n)
	return acc, err
}

func saveBalanceTx(ctx context.Context, tx pgx.Tx, acc Account) error {
	cmd, err := tx.Exec(ctx, `
		UPDATE ledger.accounts
		SET balance = $1, updated_at = now()
		WHERE owner_id = $2
	`, balanceNumeric(acc.Balance), acc.Owner)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, acc.Owner)
	}
	return nil
}

// requireInserted maps an ON CONFLICT DO NOTHING no-op to conflictErr. The
// create-once operations and the idempotency claim share this mapping.
func requireInserted(tag pgconn.CommandTag, conflictErr error) error {
	if tag.RowsAffected() == 0 {
		return conflictErr
	}
	return nil
}

func claimIdempotencyTx(ctx context.Context, tx pgx.Tx, owner, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO ledger.idempotency_keys (owner_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id, key) DO NOTHING
	`, owner, key, action)
	if err != nil {
		return err
	}
	return requireInserted(cmd, ErrDuplicateIdempotency)
}

type journalRow struct {
	owner    string
	side     string
	action   string
	amount   uint64
	negative bool
}

func appendJournalTx(ctx context.Context, tx pgx.Tx, groupID string, rows []journalRow) error {
	for _, row := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger.entries (tx_group_id, owner_id, side, action, delta)
			VALUES ($1, $2, $3, $4, $5)
		`, groupID, row.owner, row.side, row.action, signedDelta(row.amount, row.negative))
		if err != nil {
			return err
		}
	}
	return nil
}

// Entry is one journal line as returned by Statement.
type Entry struct {
	TxGroupID string    `json:"tx_group_id"`
	Side      string    `json:"side"`
	Action    string    `json:"action"`
	Delta     string    `json:"delta"`
	CreatedAt time.Time `json:"created_at"`
}
