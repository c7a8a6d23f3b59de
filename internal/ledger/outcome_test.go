package ledger

import (
	"errors"
	"math"
	"testing"
)

func TestNewOutcomeVariants(t *testing.T) {
	tests := []struct {
		winner, loser string
		want          OutcomeVariant
	}{
		{"", "", OutcomeNeither},
		{"alice", "", OutcomeWinnerOnly},
		{"", "bob", OutcomeLoserOnly},
		{"alice", "bob", OutcomeBoth},
	}
	for _, tc := range tests {
		o, err := NewOutcome(tc.winner, tc.loser)
		if err != nil {
			t.Fatalf("NewOutcome(%q, %q): %v", tc.winner, tc.loser, err)
		}
		if o.Variant() != tc.want {
			t.Fatalf("NewOutcome(%q, %q) variant = %v, want %v", tc.winner, tc.loser, o.Variant(), tc.want)
		}
	}
}

func TestNewOutcomeSameAccount(t *testing.T) {
	if _, err := NewOutcome("alice", "alice"); err == nil {
		t.Fatal("expected error for winner == loser")
	}
}

func TestApplyOutcomeBoth(t *testing.T) {
	operating := Account{Owner: OperatingOwnerID, Balance: 0}
	winner := Account{Owner: "alice", Balance: 200}
	loser := Account{Owner: "bob", Balance: 1000}

	if err := ApplyOutcome(&operating, &winner, &loser, 500); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if winner.Balance != 650 {
		t.Fatalf("winner balance = %d, want 650", winner.Balance)
	}
	if loser.Balance != 500 {
		t.Fatalf("loser balance = %d, want 500", loser.Balance)
	}
	if operating.Balance != 50 {
		t.Fatalf("operating balance = %d, want 50", operating.Balance)
	}
	// Conservation: winner gain + house gain == loser loss.
	if (winner.Balance-200)+(operating.Balance-0) != 1000-loser.Balance {
		t.Fatal("stake not conserved across the round")
	}
}

func TestApplyOutcomeWinnerOnly(t *testing.T) {
	operating := Account{Owner: OperatingOwnerID, Balance: 10}
	winner := Account{Owner: "alice", Balance: 1000}

	if err := ApplyOutcome(&operating, &winner, nil, 500); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if winner.Balance != 1450 {
		t.Fatalf("winner balance = %d, want 1450", winner.Balance)
	}
	if operating.Balance != 60 {
		t.Fatalf("operating balance = %d, want 60", operating.Balance)
	}
}

func TestApplyOutcomeLoserOnly(t *testing.T) {
	operating := Account{Owner: OperatingOwnerID, Balance: 0}
	loser := Account{Owner: "bob", Balance: 700}

	if err := ApplyOutcome(&operating, nil, &loser, 700); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if loser.Balance != 0 {
		t.Fatalf("loser balance = %d, want 0", loser.Balance)
	}
	if operating.Balance != 70 {
		t.Fatalf("operating balance = %d, want 70", operating.Balance)
	}
}

func TestApplyOutcomeNeither(t *testing.T) {
	operating := Account{Owner: OperatingOwnerID, Balance: 5}
	if err := ApplyOutcome(&operating, nil, nil, 40); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if operating.Balance != 9 {
		t.Fatalf("operating balance = %d, want 9", operating.Balance)
	}
}

func TestApplyOutcomeLoserInsufficient(t *testing.T) {
	operating := Account{Owner: OperatingOwnerID, Balance: 3}
	winner := Account{Owner: "alice", Balance: 200}
	loser := Account{Owner: "bob", Balance: 499}

	err := ApplyOutcome(&operating, &winner, &loser, 500)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if winner.Balance != 200 || loser.Balance != 499 || operating.Balance != 3 {
		t.Fatalf("balances mutated on failed settlement: %d %d %d",
			winner.Balance, loser.Balance, operating.Balance)
	}
}

func TestApplyOutcomeWinnerOverflow(t *testing.T) {
	operating := Account{Owner: OperatingOwnerID, Balance: 0}
	winner := Account{Owner: "alice", Balance: math.MaxUint64 - 10}
	loser := Account{Owner: "bob", Balance: 1000}

	err := ApplyOutcome(&operating, &winner, &loser, 500)
	if !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected ErrArithmetic, got %v", err)
	}
	if winner.Balance != math.MaxUint64-10 || loser.Balance != 1000 || operating.Balance != 0 {
		t.Fatal("balances mutated on failed settlement")
	}
}

// Replays the full lifecycle over in-memory records: deposit, winner-only
// settlement, admin withdrawal of the accrued rake.
func TestRoundLifecycle(t *testing.T) {
	operating := Account{Owner: OperatingOwnerID}
	user := Account{Owner: "u1"}

	if err := user.Credit(1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ApplyOutcome(&operating, &user, nil, 500); err != nil {
		t.Fatalf("attest: %v", err)
	}
	if user.Balance != 1450 {
		t.Fatalf("user balance = %d, want 1450", user.Balance)
	}
	if operating.Balance != 50 {
		t.Fatalf("operating balance = %d, want 50", operating.Balance)
	}
	if err := operating.Debit(50); err != nil {
		t.Fatalf("admin withdraw: %v", err)
	}
	if operating.Balance != 0 {
		t.Fatalf("operating balance = %d, want 0", operating.Balance)
	}
}
