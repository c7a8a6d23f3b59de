package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "stakehouse/internal/cli"
	"stakehouse/internal/config"
	"stakehouse/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "skh",
		Short:        "Stakehouse wagering ledger client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newGameCmd(&apiBase),
		newAccountCmd(&apiBase),
		newBalanceCmd(&apiBase),
		newStatementCmd(&apiBase),
		newDepositCmd(&apiBase),
		newWithdrawCmd(&apiBase),
		newAttestCmd(&apiBase),
		newAdminCmd(&apiBase),
		newSyncCmd(&apiBase),
		newQueueCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func opContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func requireSession() (cl.Session, error) {
	session, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("not logged in: run `skh login` first")
	}
	return session, nil
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Stakehouse identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `skh login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.Identity.Email,
				UserID:       session.Identity.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Stakehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.Identity.Email,
				UserID:       session.Identity.ID,
			}); err != nil {
				return err
			}
			printSuccess("Logged in as " + session.Identity.Email)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printInfo("Session cleared.")
			return nil
		},
	}
}

func newGameCmd(apiBase *string) *cobra.Command {
	game := &cobra.Command{
		Use:   "game",
		Short: "Game record operations",
	}

	var seed uint8
	var vaultAccount string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the game; the caller becomes the authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			if strings.TrimSpace(vaultAccount) == "" {
				return fmt.Errorf("--vault-account is required")
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).GameInit(ctx, session.AccessToken, seed, vaultAccount, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess("Game initialized.")
			renderKV(out)
			return nil
		},
	}
	initCmd.Flags().Uint8Var(&seed, "seed", 0, "credential derivation seed byte")
	initCmd.Flags().StringVar(&vaultAccount, "vault-account", "", "custody account holding deposited tokens")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show authority and operating balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).GameState(ctx, session.AccessToken)
			if err != nil {
				return err
			}
			renderKV(out)
			return nil
		},
	}

	game.AddCommand(initCmd, showCmd)
	return game
}

func newAccountCmd(apiBase *string) *cobra.Command {
	account := &cobra.Command{
		Use:   "account",
		Short: "Balance account operations",
	}
	account.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Register a zero-balance account for the logged-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).CreateAccount(ctx, session.AccessToken, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess("Account created.")
			renderKV(out)
			return nil
		},
	})
	return account
}

func newBalanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the internal balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Balance(ctx, session.AccessToken)
			if err != nil {
				return err
			}
			renderKV(out)
			return nil
		},
	}
}

func newStatementCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Show recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Statement(ctx, session.AccessToken, limit)
			if err != nil {
				return err
			}
			renderStatement(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "entries to fetch")
	return cmd
}

func newDepositCmd(apiBase *string) *cobra.Command {
	var from string
	var queue bool
	cmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Move tokens into custody and credit the balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(from) == "" {
				return fmt.Errorf("--from vault ref is required")
			}
			idem := uuid.NewString()
			if queue {
				return enqueue("deposit", "POST", "/v1/accounts/deposit", map[string]any{
					"amount":           fmt.Sprintf("%d", amount),
					"source_vault_ref": from,
				}, idem)
			}
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Deposit(ctx, session.AccessToken, amount, from, idem)
			if err != nil {
				return err
			}
			printSuccess("Deposit applied.")
			renderKV(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source vault account")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue for later sync instead of sending now")
	return cmd
}

func newWithdrawCmd(apiBase *string) *cobra.Command {
	var to string
	var queue bool
	cmd := &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Debit the balance and move tokens out of custody",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(to) == "" {
				return fmt.Errorf("--to vault ref is required")
			}
			idem := uuid.NewString()
			if queue {
				return enqueue("withdraw", "POST", "/v1/accounts/withdraw", map[string]any{
					"amount":                fmt.Sprintf("%d", amount),
					"destination_vault_ref": to,
				}, idem)
			}
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Withdraw(ctx, session.AccessToken, amount, to, idem)
			if err != nil {
				return err
			}
			printSuccess("Withdrawal applied.")
			renderKV(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination vault account")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue for later sync instead of sending now")
	return cmd
}

func newAttestCmd(apiBase *string) *cobra.Command {
	var winner, loser string
	var queue bool
	cmd := &cobra.Command{
		Use:   "attest <stake>",
		Short: "Settle a round between a winner and a loser (authority only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stake, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			if queue {
				body := map[string]any{"stake": fmt.Sprintf("%d", stake)}
				if winner != "" {
					body["winner"] = winner
				}
				if loser != "" {
					body["loser"] = loser
				}
				return enqueue("attest", "POST", "/v1/rounds/attest", body, idem)
			}
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Attest(ctx, session.AccessToken, stake, winner, loser, idem)
			if err != nil {
				return err
			}
			printSuccess("Round settled.")
			renderKV(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&winner, "winner", "", "winner account owner id (optional)")
	cmd.Flags().StringVar(&loser, "loser", "", "loser account owner id (optional)")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue for later sync instead of sending now")
	return cmd
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Operating balance operations (authority only)",
	}

	var from string
	depositCmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Top up the operating balance from a vault account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(from) == "" {
				return fmt.Errorf("--from vault ref is required")
			}
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).AdminDeposit(ctx, session.AccessToken, amount, from, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess("Operating balance credited.")
			renderKV(out)
			return nil
		},
	}
	depositCmd.Flags().StringVar(&from, "from", "", "source vault account")

	var to string
	withdrawCmd := &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Move accrued rake out of custody",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(to) == "" {
				return fmt.Errorf("--to vault ref is required")
			}
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).AdminWithdraw(ctx, session.AccessToken, amount, to, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess("Operating balance debited.")
			renderKV(out)
			return nil
		},
	}
	withdrawCmd.Flags().StringVar(&to, "to", "", "destination vault account")

	admin.AddCommand(depositCmd, withdrawCmd)
	return admin
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued commands against the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			commands, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(commands) == 0 {
				printInfo("Queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			var remaining []syncq.Command
			for i, c := range commands {
				ctx, cancel := opContext(cmd)
				_, err := client.Do(ctx, session.AccessToken, c.Method, c.Path, c.Body, c.IdempotencyKey)
				cancel()
				if err != nil {
					printError(fmt.Sprintf("command %d failed: %v", i+1, err))
					remaining = append(remaining, commands[i:]...)
					break
				}
				printSuccess(fmt.Sprintf("replayed %s %s", c.Method, c.Path))
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			if len(remaining) > 0 {
				printWarn(fmt.Sprintf("%d command(s) left in queue.", len(remaining)))
			}
			return nil
		},
	}
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued offline commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			commands, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(commands) == 0 {
				printInfo("Queue is empty.")
				return nil
			}
			now := time.Now().UTC()
			for i, c := range commands {
				label := c.Label
				if label == "" {
					label = c.Method + " " + c.Path
				}
				printInfo(fmt.Sprintf("%d. %s (key %s, queued %s ago)", i+1, label, c.IdempotencyKey, c.Age(now)))
			}
			return nil
		},
	}
}

func enqueue(label, method, path string, body map[string]any, idem string) error {
	if err := syncq.Push(syncq.Command{
		Label:          label,
		Method:         method,
		Path:           path,
		Body:           body,
		IdempotencyKey: idem,
	}); err != nil {
		return err
	}
	printInfo("Queued. Run `skh sync` when online.")
	return nil
}
