package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakehouse/internal/vault"
)

// Service is the settlement engine: atomic transitions over the game and
// account records, each in one serializable transaction. It holds no state
// of its own beyond its collaborators.
type Service struct {
	db     *pgxpool.Pool
	vault  Vault
	secret []byte
	log    *slog.Logger
}

// NewService wires the engine to its store and collaborators. secret is the
// deployment-wide input to the vault credential derivation.
func NewService(db *pgxpool.Pool, v Vault, secret []byte, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, vault: v, secret: secret, log: logger}
}

type InitializeInput struct {
	Authority      string
	Seed           byte
	VaultAccount   string
	IdempotencyKey string
}

// Initialize creates the game record and its operating account. First caller
// wins; a second call fails with ErrAlreadyExists.
func (s *Service) Initialize(ctx context.Context, in InitializeInput) error {
	if in.VaultAccount == "" {
		return fmt.Errorf("vault account is required")
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotencyTx(ctx, tx, in.Authority, in.IdempotencyKey, "initialize"); err != nil {
		return err
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO ledger.game (id, seed, authority_id, vault_account)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, int16(in.Seed), in.Authority, in.VaultAccount)
	if err != nil {
		return err
	}
	if err := requireInserted(cmd, fmt.Errorf("%w: game", ErrAlreadyExists)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger.accounts (owner_id, balance)
		VALUES ($1, 0)
	`, OperatingOwnerID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("game initialized", "authority", in.Authority, "vault_account", in.VaultAccount)
	return nil
}

// CreateAccount registers a zero-balance account for owner. Re-running for
// an existing owner fails with ErrAlreadyExists and changes nothing.
func (s *Service) CreateAccount(ctx context.Context, owner, idempotencyKey string) error {
	if owner == OperatingOwnerID {
		return fmt.Errorf("owner id %q is reserved", OperatingOwnerID)
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotencyTx(ctx, tx, owner, idempotencyKey, "create_account"); err != nil {
		return err
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO ledger.accounts (owner_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (owner_id) DO NOTHING
	`, owner)
	if err != nil {
		return err
	}
	if err := requireInserted(cmd, fmt.Errorf("%w: account %s", ErrAlreadyExists, owner)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type DepositInput struct {
	Owner          string
	Amount         uint64
	SourceVaultRef string
	Grant          string
	IdempotencyKey string
}

type Receipt struct {
	Balance uint64 `json:"balance,string"`
}

// Deposit moves tokens from the caller's vault account into custody and
// credits the internal balance. The transfer is keyed with the operation's
// idempotency token, so a retried call cannot move tokens twice.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (Receipt, error) {
	var out Receipt
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotencyTx(ctx, tx, in.Owner, in.IdempotencyKey, "deposit"); err != nil {
			return err
		}
		game, err := loadGameTx(ctx, tx)
		if err != nil {
			return err
		}
		acc, err := accountForUpdateTx(ctx, tx, in.Owner)
		if err != nil {
			return err
		}
		// Arithmetic is checked before tokens move.
		if err := acc.Credit(in.Amount); err != nil {
			return err
		}
		if err := s.vault.Transfer(ctx, vault.TransferRequest{
			Amount:         in.Amount,
			Source:         in.SourceVaultRef,
			Destination:    game.VaultAccount,
			IdempotencyKey: in.IdempotencyKey,
			Grant:          in.Grant,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := saveBalanceTx(ctx, tx, acc); err != nil {
			return err
		}
		out.Balance = acc.Balance
		return appendJournalTx(ctx, tx, uuid.NewString(), []journalRow{
			{owner: in.Owner, side: "balance", action: "deposit", amount: in.Amount},
			{owner: in.Owner, side: "vault", action: "deposit", amount: in.Amount, negative: true},
		})
	})
	return out, err
}

type WithdrawInput struct {
	Owner               string
	Amount              uint64
	DestinationVaultRef string
	IdempotencyKey      string
}

// Withdraw debits the internal balance and moves tokens out of custody to
// the caller's vault account, signed with the game credential.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (Receipt, error) {
	var out Receipt
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotencyTx(ctx, tx, in.Owner, in.IdempotencyKey, "withdraw"); err != nil {
			return err
		}
		game, err := loadGameTx(ctx, tx)
		if err != nil {
			return err
		}
		acc, err := accountForUpdateTx(ctx, tx, in.Owner)
		if err != nil {
			return err
		}
		if err := acc.Debit(in.Amount); err != nil {
			return err
		}
		cred, err := vault.DeriveCredential(s.secret, game.Seed)
		if err != nil {
			return err
		}
		if err := s.vault.Transfer(ctx, vault.TransferRequest{
			Amount:         in.Amount,
			Source:         game.VaultAccount,
			Destination:    in.DestinationVaultRef,
			IdempotencyKey: in.IdempotencyKey,
			Credential:     cred,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := saveBalanceTx(ctx, tx, acc); err != nil {
			return err
		}
		out.Balance = acc.Balance
		return appendJournalTx(ctx, tx, uuid.NewString(), []journalRow{
			{owner: in.Owner, side: "balance", action: "withdraw", amount: in.Amount, negative: true},
			{owner: in.Owner, side: "vault", action: "withdraw", amount: in.Amount},
		})
	})
	return out, err
}

type AttestInput struct {
	Caller         string
	Stake          uint64
	Outcome        Outcome
	IdempotencyKey string
}

type RoundResult struct {
	Variant string `json:"variant"`
	Stake   uint64 `json:"stake,string"`
	Net     uint64 `json:"net,string"`
	Rake    uint64 `json:"rake,string"`
	// Decimal strings, empty when the role is absent from the round.
	WinnerBalance    string `json:"winner_balance,omitempty"`
	LoserBalance     string `json:"loser_balance,omitempty"`
	OperatingBalance uint64 `json:"operating_balance,string"`
}

// AttestOutcome settles one round: winner gains the net stake, loser loses
// the full stake, the operating account keeps the rake. Authority only. No
// tokens move, so serialization conflicts are retried with backoff.
func (s *Service) AttestOutcome(ctx context.Context, in AttestInput) (RoundResult, error) {
	var out RoundResult

	if w, ok := in.Outcome.Winner(); ok && w == OperatingOwnerID {
		return out, fmt.Errorf("operating account cannot be the winner")
	}
	if l, ok := in.Outcome.Loser(); ok && l == OperatingOwnerID {
		return out, fmt.Errorf("operating account cannot be the loser")
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotencyTx(ctx, tx, in.Caller, in.IdempotencyKey, "attest_outcome"); err != nil {
				return err
			}
			game, err := loadGameTx(ctx, tx)
			if err != nil {
				return err
			}
			if err := game.RequireAuthority(in.Caller); err != nil {
				return err
			}

			operating, err := accountForUpdateTx(ctx, tx, OperatingOwnerID)
			if err != nil {
				return err
			}
			var winner, loser *Account
			if w, ok := in.Outcome.Winner(); ok {
				acc, err := accountForUpdateTx(ctx, tx, w)
				if err != nil {
					return err
				}
				winner = &acc
			}
			if l, ok := in.Outcome.Loser(); ok {
				acc, err := accountForUpdateTx(ctx, tx, l)
				if err != nil {
					return err
				}
				loser = &acc
			}

			if err := ApplyOutcome(&operating, winner, loser, in.Stake); err != nil {
				return err
			}

			net, rake := SplitStake(in.Stake)
			groupID := uuid.NewString()
			rows := make([]journalRow, 0, 3)
			if winner != nil {
				if err := saveBalanceTx(ctx, tx, *winner); err != nil {
					return err
				}
				rows = append(rows, journalRow{owner: winner.Owner, side: "balance", action: "win", amount: net})
			}
			if loser != nil {
				if err := saveBalanceTx(ctx, tx, *loser); err != nil {
					return err
				}
				rows = append(rows, journalRow{owner: loser.Owner, side: "balance", action: "loss", amount: in.Stake, negative: true})
			}
			if err := saveBalanceTx(ctx, tx, operating); err != nil {
				return err
			}
			rows = append(rows, journalRow{owner: OperatingOwnerID, side: "balance", action: "rake", amount: rake})
			if err := appendJournalTx(ctx, tx, groupID, rows); err != nil {
				return err
			}

			out = RoundResult{
				Variant:          in.Outcome.Variant().String(),
				Stake:            in.Stake,
				Net:              net,
				Rake:             rake,
				OperatingBalance: operating.Balance,
			}
			if winner != nil {
				out.WinnerBalance = strconv.FormatUint(winner.Balance, 10)
			}
			if loser != nil {
				out.LoserBalance = strconv.FormatUint(loser.Balance, 10)
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			s.log.Info("round settled",
				"variant", out.Variant, "stake", out.Stake, "rake", out.Rake)
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return out, ErrTxConflict
}

type AdminDepositInput struct {
	Caller         string
	Amount         uint64
	SourceVaultRef string
	Grant          string
	IdempotencyKey string
}

// AdminDeposit tops up the operating balance from the authority's own vault
// account. Authority only.
func (s *Service) AdminDeposit(ctx context.Context, in AdminDepositInput) (Receipt, error) {
	var out Receipt
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotencyTx(ctx, tx, in.Caller, in.IdempotencyKey, "admin_deposit"); err != nil {
			return err
		}
		game, err := loadGameTx(ctx, tx)
		if err != nil {
			return err
		}
		if err := game.RequireAuthority(in.Caller); err != nil {
			return err
		}
		operating, err := accountForUpdateTx(ctx, tx, OperatingOwnerID)
		if err != nil {
			return err
		}
		if err := operating.Credit(in.Amount); err != nil {
			return err
		}
		if err := s.vault.Transfer(ctx, vault.TransferRequest{
			Amount:         in.Amount,
			Source:         in.SourceVaultRef,
			Destination:    game.VaultAccount,
			IdempotencyKey: in.IdempotencyKey,
			Grant:          in.Grant,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := saveBalanceTx(ctx, tx, operating); err != nil {
			return err
		}
		out.Balance = operating.Balance
		return appendJournalTx(ctx, tx, uuid.NewString(), []journalRow{
			{owner: OperatingOwnerID, side: "balance", action: "admin_deposit", amount: in.Amount},
			{owner: OperatingOwnerID, side: "vault", action: "admin_deposit", amount: in.Amount, negative: true},
		})
	})
	return out, err
}

type AdminWithdrawInput struct {
	Caller              string
	Amount              uint64
	DestinationVaultRef string
	IdempotencyKey      string
}

// AdminWithdraw moves tokens from custody to the authority's vault account,
// debiting the operating balance. Authority only; signed with the game
// credential.
func (s *Service) AdminWithdraw(ctx context.Context, in AdminWithdrawInput) (Receipt, error) {
	var out Receipt
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotencyTx(ctx, tx, in.Caller, in.IdempotencyKey, "admin_withdraw"); err != nil {
			return err
		}
		game, err := loadGameTx(ctx, tx)
		if err != nil {
			return err
		}
		if err := game.RequireAuthority(in.Caller); err != nil {
			return err
		}
		operating, err := accountForUpdateTx(ctx, tx, OperatingOwnerID)
		if err != nil {
			return err
		}
		if err := operating.Debit(in.Amount); err != nil {
			return err
		}
		cred, err := vault.DeriveCredential(s.secret, game.Seed)
		if err != nil {
			return err
		}
		if err := s.vault.Transfer(ctx, vault.TransferRequest{
			Amount:         in.Amount,
			Source:         game.VaultAccount,
			Destination:    in.DestinationVaultRef,
			IdempotencyKey: in.IdempotencyKey,
			Credential:     cred,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := saveBalanceTx(ctx, tx, operating); err != nil {
			return err
		}
		out.Balance = operating.Balance
		return appendJournalTx(ctx, tx, uuid.NewString(), []journalRow{
			{owner: OperatingOwnerID, side: "balance", action: "admin_withdraw", amount: in.Amount, negative: true},
			{owner: OperatingOwnerID, side: "vault", action: "admin_withdraw", amount: in.Amount},
		})
	})
	return out, err
}

type GameView struct {
	Authority        string `json:"authority"`
	VaultAccount     string `json:"vault_account"`
	OperatingBalance uint64 `json:"operating_balance,string"`
}

func (s *Service) GameState(ctx context.Context) (GameView, error) {
	var out GameView
	var n pgtype.Numeric
	err := s.db.QueryRow(ctx, `
		SELECT g.authority_id, g.vault_account, a.balance
		FROM ledger.game g
		JOIN ledger.accounts a ON a.owner_id = $1
		WHERE g.id = 1
	`, OperatingOwnerID).Scan(&out.Authority, &out.VaultAccount, &n)
	if err == pgx.ErrNoRows {
		return out, ErrNotInitialized
	}
	if err != nil {
		return out, err
	}
	out.OperatingBalance, err = balanceFromNumeric(n)
	return out, err
}

func (s *Service) Balance(ctx context.Context, owner string) (Account, error) {
	acc := Account{Owner: owner}
	var n pgtype.Numeric
	err := s.db.QueryRow(ctx, `
		SELECT balance
		FROM ledger.accounts
		WHERE owner_id = $1
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

func (s *Service) Statement(ctx context.Context, owner string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 256 {
		limit = 64
	}
	rows, err := s.db.Query(ctx, `
		SELECT tx_group_id, side, action, delta, created_at
		FROM ledger.entries
		WHERE owner_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var delta pgtype.Numeric
		if err := rows.Scan(&e.TxGroupID, &e.Side, &e.Action, &delta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Delta, err = deltaString(delta); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PromisedTotal sums every account balance: the amount the ledger has
// promised against vault custody.
func (s *Service) PromisedTotal(ctx context.Context) (uint64, error) {
	var n pgtype.Numeric
	if err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(balance), 0)
		FROM ledger.accounts
	`).Scan(&n); err != nil {
		return 0, err
	}
	return balanceFromNumeric(n)
}

type AuditReport struct {
	Promised     uint64 `json:"promised,string"`
	Custodied    uint64 `json:"custodied,string"`
	OverPromised bool   `json:"over_promised"`
}

// Reconcile compares the promised total against what the vault actually
// holds for the game account. Promised must never exceed custody.
func (s *Service) Reconcile(ctx context.Context) (AuditReport, error) {
	var out AuditReport
	game, err := s.gameState(ctx)
	if err != nil {
		return out, err
	}
	out.Promised, err = s.PromisedTotal(ctx)
	if err != nil {
		return out, err
	}
	out.Custodied, err = s.vault.CustodiedBalance(ctx, game.VaultAccount)
	if err != nil {
		return out, err
	}
	out.OverPromised = out.Promised > out.Custodied
	return out, nil
}

func (s *Service) gameState(ctx context.Context) (Game, error) {
	var g Game
	var seed int16
	err := s.db.QueryRow(ctx, `
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

// withTx runs fn in one serializable transaction, single attempt. Operations
// that move tokens do not blind-retry; a serialization conflict surfaces as
// ErrTxConflict and the caller retries with the same idempotency key.
func (s *Service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		if isSerializationError(err) {
			return ErrTxConflict
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationError(err) {
			return ErrTxConflict
		}
		return err
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
