package vault

import "testing"

func TestDeriveCredentialDeterministic(t *testing.T) {
	secret := []byte("test-shared-secret")
	a, err := DeriveCredential(secret, 7)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveCredential(secret, 7)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	req := TransferRequest{Amount: 50, Source: "game-vault", Destination: "admin-vault", IdempotencyKey: "k1"}
	if a.Sign(req) != b.Sign(req) {
		t.Fatal("same secret and seed must derive the same credential")
	}
}

func TestDeriveCredentialSeedChangesKey(t *testing.T) {
	secret := []byte("test-shared-secret")
	a, _ := DeriveCredential(secret, 7)
	b, _ := DeriveCredential(secret, 8)
	req := TransferRequest{Amount: 50, Source: "s", Destination: "d", IdempotencyKey: "k"}
	if a.Sign(req) == b.Sign(req) {
		t.Fatal("different seeds must derive different credentials")
	}
}

func TestSignVerify(t *testing.T) {
	cred, err := DeriveCredential([]byte("secret"), 1)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	req := TransferRequest{Amount: 1000, Source: "game-vault", Destination: "user-vault", IdempotencyKey: "op-1"}
	sig := cred.Sign(req)
	if !cred.Verify(req, sig) {
		t.Fatal("signature must verify")
	}

	tampered := req
	tampered.Amount = 1001
	if cred.Verify(tampered, sig) {
		t.Fatal("signature must not verify a different amount")
	}

	replayed := req
	replayed.IdempotencyKey = "op-2"
	if cred.Verify(replayed, sig) {
		t.Fatal("signature must be bound to the idempotency key")
	}
}
