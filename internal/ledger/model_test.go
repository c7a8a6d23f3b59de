package ledger

import (
	"errors"
	"math"
	"testing"
)

func TestSplitStake(t *testing.T) {
	tests := []struct {
		stake uint64
		net   uint64
		rake  uint64
	}{
		{stake: 0, net: 0, rake: 0},
		{stake: 9, net: 9, rake: 0},
		{stake: 10, net: 9, rake: 1},
		{stake: 500, net: 450, rake: 50},
		{stake: 999, net: 900, rake: 99},
		{stake: 1001, net: 901, rake: 100},
		{stake: math.MaxUint64, net: math.MaxUint64 - math.MaxUint64/10, rake: math.MaxUint64 / 10},
	}
	for _, tc := range tests {
		net, rake := SplitStake(tc.stake)
		if net != tc.net || rake != tc.rake {
			t.Fatalf("SplitStake(%d) = (%d, %d), want (%d, %d)", tc.stake, net, rake, tc.net, tc.rake)
		}
		if net+rake != tc.stake {
			t.Fatalf("stake %d not conserved: net %d + rake %d", tc.stake, net, rake)
		}
	}
}

func TestRequireAuthority(t *testing.T) {
	g := Game{Authority: "auth-1"}
	if err := g.RequireAuthority("auth-1"); err != nil {
		t.Fatalf("authority rejected: %v", err)
	}
	if err := g.RequireAuthority("someone-else"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := g.RequireAuthority(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty caller, got %v", err)
	}
}

func TestCredit(t *testing.T) {
	acc := Account{Owner: "u1", Balance: 100}
	if err := acc.Credit(900); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if acc.Balance != 1000 {
		t.Fatalf("balance = %d, want 1000", acc.Balance)
	}
}

func TestCreditOverflow(t *testing.T) {
	acc := Account{Owner: "u1", Balance: math.MaxUint64 - 5}
	err := acc.Credit(6)
	if !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected ErrArithmetic, got %v", err)
	}
	if acc.Balance != math.MaxUint64-5 {
		t.Fatalf("balance mutated on failed credit: %d", acc.Balance)
	}
}

func TestDebit(t *testing.T) {
	acc := Account{Owner: "u1", Balance: 1000}
	if err := acc.Debit(400); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if acc.Balance != 600 {
		t.Fatalf("balance = %d, want 600", acc.Balance)
	}
}

func TestDebitInsufficient(t *testing.T) {
	acc := Account{Owner: "u1", Balance: 100}
	err := acc.Debit(101)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if acc.Balance != 100 {
		t.Fatalf("balance mutated on failed debit: %d", acc.Balance)
	}
}

func TestCheckedAddBoundary(t *testing.T) {
	if _, err := checkedAdd(math.MaxUint64, 0); err != nil {
		t.Fatalf("max + 0 should not overflow: %v", err)
	}
	if _, err := checkedAdd(math.MaxUint64, 1); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("max + 1 should overflow, got %v", err)
	}
	if _, err := checkedSub(0, 1); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("0 - 1 should underflow, got %v", err)
	}
}
