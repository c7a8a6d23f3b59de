package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

// Credential authorizes vault-side withdrawals on the game's behalf. It is
// a signing key, not an identity: the custody service derives the same key
// from the shared secret and the game's published seed byte and checks the
// request signature against it.
type Credential struct {
	key []byte
}

// DeriveCredential expands the deployment's shared secret and the game's
// seed byte into the withdrawal signing key via HKDF-SHA256.
func DeriveCredential(secret []byte, seed byte) (*Credential, error) {
	r := hkdf.New(sha256.New, secret, []byte{seed}, []byte("stakehouse vault withdrawal v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive vault credential: %w", err)
	}
	return &Credential{key: key}, nil
}

// Sign produces the hex HMAC-SHA256 signature of one transfer request over
// its canonical form. The idempotency key is part of the signed payload so a
// captured signature cannot authorize a second movement.
func (c *Credential) Sign(req TransferRequest) string {
	mac := hmac.New(sha256.New, c.key)
	io.WriteString(mac, req.Source)
	io.WriteString(mac, "\n")
	io.WriteString(mac, req.Destination)
	io.WriteString(mac, "\n")
	io.WriteString(mac, strconv.FormatUint(req.Amount, 10))
	io.WriteString(mac, "\n")
	io.WriteString(mac, req.IdempotencyKey)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for req under this
// credential. The custody service side of Sign.
func (c *Credential) Verify(req TransferRequest, sig string) bool {
	return hmac.Equal([]byte(c.Sign(req)), []byte(sig))
}
