package ledger

import (
	"context"

	"stakehouse/internal/vault"
)

// Vault is the token-custody collaborator. Transfers are all-or-nothing;
// any returned error means no tokens moved and the enclosing operation must
// abort. CustodiedBalance backs the reconciliation audit.
type Vault interface {
	Transfer(ctx context.Context, req vault.TransferRequest) error
	CustodiedBalance(ctx context.Context, account string) (uint64, error)
}
