package ledger

import "fmt"

// OutcomeVariant tags which roles a settled round carries. Winner and loser
// are independently optional: a round may only credit, only debit, do both,
// or neither (rake still accrues in every variant).
type OutcomeVariant uint8

const (
	OutcomeNeither OutcomeVariant = iota
	OutcomeWinnerOnly
	OutcomeLoserOnly
	OutcomeBoth
)

func (v OutcomeVariant) String() string {
	switch v {
	case OutcomeWinnerOnly:
		return "winner_only"
	case OutcomeLoserOnly:
		return "loser_only"
	case OutcomeBoth:
		return "both"
	default:
		return "neither"
	}
}

// Outcome is the tagged winner/loser choice for one round. Construct it with
// NewOutcome; the zero value is the neither variant.
type Outcome struct {
	variant OutcomeVariant
	winner  string
	loser   string
}

// NewOutcome builds an outcome from optional winner and loser owner ids;
// empty means the role is absent. A round cannot name the same account on
// both sides.
func NewOutcome(winner, loser string) (Outcome, error) {
	if winner != "" && winner == loser {
		return Outcome{}, fmt.Errorf("winner and loser must be different accounts")
	}
	o := Outcome{winner: winner, loser: loser}
	switch {
	case winner != "" && loser != "":
		o.variant = OutcomeBoth
	case winner != "":
		o.variant = OutcomeWinnerOnly
	case loser != "":
		o.variant = OutcomeLoserOnly
	}
	return o, nil
}

func (o Outcome) Variant() OutcomeVariant { return o.variant }

func (o Outcome) Winner() (string, bool) {
	return o.winner, o.variant == OutcomeWinnerOnly || o.variant == OutcomeBoth
}

func (o Outcome) Loser() (string, bool) {
	return o.loser, o.variant == OutcomeLoserOnly || o.variant == OutcomeBoth
}

// ApplyOutcome settles one round across the records in memory: the winner
// (when present) gains net stake, the loser (when present) loses the full
// stake, and the operating account gains the rake. All checks run before any
// record is touched, so a failed settlement mutates nothing.
func ApplyOutcome(operating, winner, loser *Account, stake uint64) error {
	net, rake := SplitStake(stake)

	var winnerNext uint64
	if winner != nil {
		next, err := checkedAdd(winner.Balance, net)
		if err != nil {
			return err
		}
		winnerNext = next
	}
	var loserNext uint64
	if loser != nil {
		if loser.Balance < stake {
			return ErrInsufficientFunds
		}
		next, err := checkedSub(loser.Balance, stake)
		if err != nil {
			return err
		}
		loserNext = next
	}
	operatingNext, err := checkedAdd(operating.Balance, rake)
	if err != nil {
		return err
	}

	if winner != nil {
		winner.Balance = winnerNext
	}
	if loser != nil {
		loser.Balance = loserNext
	}
	operating.Balance = operatingNext
	return nil
}
