package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stakehouse/internal/auth"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) GameInit(ctx context.Context, accessToken string, seed uint8, vaultAccount, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/game/init", accessToken, map[string]any{
		"seed":          seed,
		"vault_account": vaultAccount,
	}, &out, idem)
	return out, err
}

func (c *Client) GameState(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/game", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CreateAccount(ctx context.Context, accessToken, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) Balance(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/me", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Statement(ctx context.Context, accessToken string, limit int) (map[string]any, error) {
	path := "/v1/accounts/me/statement"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Deposit(ctx context.Context, accessToken string, amount uint64, sourceVaultRef, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/deposit", accessToken, map[string]any{
		"amount":           fmt.Sprintf("%d", amount),
		"source_vault_ref": sourceVaultRef,
	}, &out, idem)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, accessToken string, amount uint64, destVaultRef, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/withdraw", accessToken, map[string]any{
		"amount":                fmt.Sprintf("%d", amount),
		"destination_vault_ref": destVaultRef,
	}, &out, idem)
	return out, err
}

func (c *Client) Attest(ctx context.Context, accessToken string, stake uint64, winner, loser, idem string) (map[string]any, error) {
	body := map[string]any{
		"stake": fmt.Sprintf("%d", stake),
	}
	if winner != "" {
		body["winner"] = winner
	}
	if loser != "" {
		body["loser"] = loser
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rounds/attest", accessToken, body, &out, idem)
	return out, err
}

func (c *Client) AdminDeposit(ctx context.Context, accessToken string, amount uint64, sourceVaultRef, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/deposit", accessToken, map[string]any{
		"amount":           fmt.Sprintf("%d", amount),
		"source_vault_ref": sourceVaultRef,
	}, &out, idem)
	return out, err
}

func (c *Client) AdminWithdraw(ctx context.Context, accessToken string, amount uint64, destVaultRef, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/withdraw", accessToken, map[string]any{
		"amount":                fmt.Sprintf("%d", amount),
		"destination_vault_ref": destVaultRef,
	}, &out, idem)
	return out, err
}

// Do replays one queued command verbatim; the stored idempotency key makes
// a command safe to replay after a partial sync.
func (c *Client) Do(ctx context.Context, accessToken, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
