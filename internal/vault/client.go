package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TransferRequest asks the custody service to move tokens between two vault
// accounts. Exactly one authorization applies: Grant carries the sender's
// own bearer grant (user deposits into custody), Credential signs movements
// out of the game vault.
type TransferRequest struct {
	Amount         uint64
	Source         string
	Destination    string
	IdempotencyKey string
	Grant          string
	Credential     *Credential
}

// Client talks to the token-custody service. Transfers are atomic on the
// service side: any non-2xx status means no tokens moved.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) error {
	payload := map[string]any{
		"amount":      fmt.Sprintf("%d", req.Amount),
		"source":      req.Source,
		"destination": req.Destination,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if req.Grant != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Grant)
	}
	if req.Credential != nil {
		httpReq.Header.Set("X-Vault-Signature", req.Credential.Sign(req))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("vault status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// CustodiedBalance reads the token amount the custody service actually holds
// for one vault account. Used by the auditor to reconcile promised balances
// against real custody.
func (c *Client) CustodiedBalance(ctx context.Context, account string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/accounts/"+url.PathEscape(account)+"/balance", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("vault status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		Amount uint64 `json:"amount,string"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode vault balance: %w", err)
	}
	return out.Amount, nil
}
