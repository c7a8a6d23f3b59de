package ledger

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"stakehouse/internal/db"
	"stakehouse/internal/vault"
)

// These tests need a real Postgres; set DATABASE_URL to run them. They own
// the ledger tables and wipe them on setup.

type fakeVault struct {
	custodied uint64
	transfers int
}

func (f *fakeVault) Transfer(ctx context.Context, req vault.TransferRequest) error {
	f.transfers++
	return nil
}

func (f *fakeVault) CustodiedBalance(ctx context.Context, account string) (uint64, error) {
	return f.custodied, nil
}

func newTestService(t *testing.T) (*Service, *fakeVault) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	wipeLedger(t, pool)
	fv := &fakeVault{custodied: 1 << 40}
	return NewService(pool, fv, []byte("test secret"), nil), fv
}

func wipeLedger(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{
		"ledger.entries",
		"ledger.idempotency_keys",
		"ledger.accounts",
		"ledger.game",
	} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("wipe %s: %v", table, err)
		}
	}
}

func initGame(t *testing.T, svc *Service) {
	t.Helper()
	err := svc.Initialize(context.Background(), InitializeInput{
		Authority:      "auth-1",
		Seed:           7,
		VaultAccount:   "custody-1",
		IdempotencyKey: "init-1",
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func mustBalance(t *testing.T, svc *Service, owner string) uint64 {
	t.Helper()
	acc, err := svc.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance %s: %v", owner, err)
	}
	return acc.Balance
}

func TestInitializeTwice(t *testing.T) {
	svc, _ := newTestService(t)
	initGame(t, svc)

	err := svc.Initialize(context.Background(), InitializeInput{
		Authority:      "auth-2",
		Seed:           8,
		VaultAccount:   "custody-2",
		IdempotencyKey: "init-2",
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second initialize: got %v, want ErrAlreadyExists", err)
	}
	// The first configuration stands.
	view, err := svc.GameState(context.Background())
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if view.Authority != "auth-1" || view.VaultAccount != "custody-1" {
		t.Fatalf("game overwritten: %+v", view)
	}
}

func TestCreateAccountTwice(t *testing.T) {
	svc, _ := newTestService(t)
	initGame(t, svc)
	ctx := context.Background()

	if err := svc.CreateAccount(ctx, "alice", "create-1"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := svc.Deposit(ctx, DepositInput{
		Owner: "alice", Amount: 1000,
		SourceVaultRef: "ext-alice", Grant: "grant", IdempotencyKey: "dep-1",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Re-running with a fresh idempotency key still conflicts on the owner
	// and must not reset the funded balance.
	if err := svc.CreateAccount(ctx, "alice", "create-2"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second create: got %v, want ErrAlreadyExists", err)
	}
	if got := mustBalance(t, svc, "alice"); got != 1000 {
		t.Fatalf("balance after failed re-create = %d, want 1000", got)
	}
}

func TestDepositReplayedKey(t *testing.T) {
	svc, fv := newTestService(t)
	initGame(t, svc)
	ctx := context.Background()

	if err := svc.CreateAccount(ctx, "alice", "create-1"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	in := DepositInput{
		Owner: "alice", Amount: 1000,
		SourceVaultRef: "ext-alice", Grant: "grant", IdempotencyKey: "dep-1",
	}
	if _, err := svc.Deposit(ctx, in); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Deposit(ctx, in); !errors.Is(err, ErrDuplicateIdempotency) {
		t.Fatalf("replayed deposit: got %v, want ErrDuplicateIdempotency", err)
	}
	if got := mustBalance(t, svc, "alice"); got != 1000 {
		t.Fatalf("balance after replay = %d, want 1000", got)
	}
	if fv.transfers != 1 {
		t.Fatalf("vault saw %d transfers, want 1", fv.transfers)
	}
}

func TestAttestOutcomeUnauthorized(t *testing.T) {
	svc, _ := newTestService(t)
	initGame(t, svc)
	ctx := context.Background()

	if err := svc.CreateAccount(ctx, "alice", "create-1"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := svc.Deposit(ctx, DepositInput{
		Owner: "alice", Amount: 1000,
		SourceVaultRef: "ext-alice", Grant: "grant", IdempotencyKey: "dep-1",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	outcome, err := NewOutcome("alice", "")
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	_, err = svc.AttestOutcome(ctx, AttestInput{
		Caller: "mallory", Stake: 500,
		Outcome: outcome, IdempotencyKey: "attest-1",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-authority attest: got %v, want ErrUnauthorized", err)
	}
	if got := mustBalance(t, svc, "alice"); got != 1000 {
		t.Fatalf("alice balance moved on rejected attest: %d", got)
	}
	if got := mustBalance(t, svc, OperatingOwnerID); got != 0 {
		t.Fatalf("operating balance moved on rejected attest: %d", got)
	}
}

func TestAttestOutcomeSettles(t *testing.T) {
	svc, _ := newTestService(t)
	initGame(t, svc)
	ctx := context.Background()

	if err := svc.CreateAccount(ctx, "alice", "create-1"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := svc.Deposit(ctx, DepositInput{
		Owner: "alice", Amount: 1000,
		SourceVaultRef: "ext-alice", Grant: "grant", IdempotencyKey: "dep-1",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	outcome, err := NewOutcome("alice", "")
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	res, err := svc.AttestOutcome(ctx, AttestInput{
		Caller: "auth-1", Stake: 500,
		Outcome: outcome, IdempotencyKey: "attest-1",
	})
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if res.Net != 450 || res.Rake != 50 {
		t.Fatalf("split = net %d rake %d, want 450/50", res.Net, res.Rake)
	}
	if got := mustBalance(t, svc, "alice"); got != 1450 {
		t.Fatalf("winner balance = %d, want 1450", got)
	}
	if got := mustBalance(t, svc, OperatingOwnerID); got != 50 {
		t.Fatalf("operating balance = %d, want 50", got)
	}
}
