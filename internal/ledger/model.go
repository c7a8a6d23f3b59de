package ledger

import (
	"errors"
	"math/bits"
)

// OperatingOwnerID is the reserved owner id of the game's own account. It
// accrues rake from settled rounds and backs the admin deposit/withdraw path.
const OperatingOwnerID = "game"

// RakeDivisor fixes the house cut at stake/10, floor division.
const RakeDivisor = uint64(10)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrArithmetic           = errors.New("balance arithmetic overflow")
	ErrAlreadyExists        = errors.New("record already exists")
	ErrTransferFailed       = errors.New("vault transfer failed")
	ErrAccountNotFound      = errors.New("account not found")
	ErrNotInitialized       = errors.New("game not initialized")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry")
)

// Game is the singleton record created by Initialize. Seed is the derivation
// byte for the vault signing credential; Authority is the only identity
// allowed to attest outcomes and move the operating balance.
type Game struct {
	Seed         byte   `json:"seed"`
	Authority    string `json:"authority"`
	VaultAccount string `json:"vault_account"`
}

// RequireAuthority rejects any caller other than the configured game
// authority.
func (g Game) RequireAuthority(caller string) error {
	if caller != g.Authority {
		return ErrUnauthorized
	}
	return nil
}

// Account is one balance record. Balance counts token minor units promised
// against the vault's custody; it never goes negative.
type Account struct {
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance,string"`
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmetic
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmetic
	}
	return diff, nil
}

// Credit adds amount to the balance, failing on uint64 overflow with no
// mutation.
func (a *Account) Credit(amount uint64) error {
	next, err := checkedAdd(a.Balance, amount)
	if err != nil {
		return err
	}
	a.Balance = next
	return nil
}

// Debit subtracts amount from the balance. A debit larger than the balance
// is ErrInsufficientFunds and leaves the record untouched.
func (a *Account) Debit(amount uint64) error {
	if a.Balance < amount {
		return ErrInsufficientFunds
	}
	next, err := checkedSub(a.Balance, amount)
	if err != nil {
		return err
	}
	a.Balance = next
	return nil
}

// SplitStake divides a stake into the winner's net payout and the house
// rake. Rake is floor(stake/10); truncation remainders stay with the net
// side, so net+rake always equals stake exactly.
func SplitStake(stake uint64) (net, rake uint64) {
	rake = stake / RakeDivisor
	return stake - rake, rake
}
