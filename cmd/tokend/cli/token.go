package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "token",
		Aliases: []string{"tokens"},
		Short:   "Manage tenant API tokens",
		Long:    "Issue, inspect, and revoke tenant API tokens directly against the token store.",
	}

	cmd.AddCommand(newTokenIssueCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenShowCmd())
	cmd.AddCommand(newTokenDescribeCmd())
	cmd.AddCommand(newTokenRevokeCmd())
	cmd.AddCommand(newTokenRevokeAllCmd())
	cmd.AddCommand(newTokenCheckCmd())

	return cmd
}

// ---------- token issue ----------

func newTokenIssueCmd() *cobra.Command {
	var (
		tf          tenantFlags
		description string
		createdBy   string
		tokenType   string
		source      string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new API token",
		Long:  "Issue an API token for a tenant. The API key is shown once and cannot be retrieved again.",
		Example: `  tokend token issue --account 42 --description "billing integration"
  tokend token issue --service svc-1 --mode LIVE --description "webhooks" --token-type DIRECT_DEBIT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tf.tenant()
			if err != nil {
				return err
			}
			return runTokenIssue(service.IssueRequest{
				Tenant:      tenant,
				Description: description,
				CreatedBy:   createdBy,
				PaymentType: model.ParsePaymentType(tokenType),
				Source:      model.ParseTokenSource(source),
			})
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVar(&description, "description", "", "Human-readable description (required)")
	cmd.Flags().StringVar(&createdBy, "created-by", currentUser(), "Who issued the token")
	cmd.Flags().StringVar(&tokenType, "token-type", string(model.PaymentTypeCard), "Payment type: CARD or DIRECT_DEBIT")
	cmd.Flags().StringVar(&source, "type", string(model.TokenSourceAPI), "Token source: API, PRODUCTS or DEMO")
	cmd.MarkFlagRequired("description")

	return cmd
}

func runTokenIssue(req service.IssueRequest) error {
	svc, st, _, _, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	issued, err := svc.Issue(cmdContext(), req)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println("API token issued:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", issued.APIKey)
	fmt.Printf("  Link:   %s\n", issued.Token.Link)
	fmt.Printf("  Tenant: %s\n", issued.Token.Tenant())
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- token list ----------

func newTokenListCmd() *cobra.Command {
	var (
		tf         tenantFlags
		state      string
		source     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a tenant's tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tf.tenant()
			if err != nil {
				return err
			}
			var src model.TokenSource
			if source != "" {
				src = model.ParseTokenSource(source)
			}
			return runTokenList(tenant, model.ParseTokenState(state), src, jsonOutput)
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVar(&state, "state", string(model.TokenStateActive), "ACTIVE or REVOKED")
	cmd.Flags().StringVar(&source, "type", "", "Only tokens of this source (API, PRODUCTS, DEMO)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runTokenList(tenant model.Tenant, state model.TokenState, source model.TokenSource, jsonOutput bool) error {
	svc, st, _, _, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens, err := svc.ListTokens(cmdContext(), tenant, state, source)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tokens)
	}

	if len(tokens) == 0 {
		fmt.Printf("No %s tokens for %s.\n", state, tenant)
		return nil
	}

	fmt.Printf("%-36s %-24s %-12s %-8s %-18s %-18s\n", "LINK", "DESCRIPTION", "TOKEN TYPE", "TYPE", "ISSUED", "LAST USED")
	fmt.Printf("%-36s %-24s %-12s %-8s %-18s %-18s\n", "----", "-----------", "----------", "----", "------", "---------")
	for _, t := range tokens {
		fmt.Printf("%-36s %-24s %-12s %-8s %-18s %-18s\n",
			t.Link, truncate(t.Description, 24), t.PaymentType, t.Source,
			formatTime(&t.Issued), formatTime(t.LastUsed))
	}
	return nil
}

// ---------- token show ----------

func newTokenShowCmd() *cobra.Command {
	var tf tenantFlags

	cmd := &cobra.Command{
		Use:   "show <token-link>",
		Short: "Show a single token",
		Long:  "Show a token by its link. Without tenant flags any tenant's token is shown.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenShow(&tf, model.TokenLink(args[0]))
		},
	}

	tf.register(cmd)
	return cmd
}

func runTokenShow(tf *tenantFlags, link model.TokenLink) error {
	svc, st, _, _, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	var (
		tok model.Token
		ok  bool
	)
	if tf.isSet() {
		tenant, terr := tf.tenant()
		if terr != nil {
			return terr
		}
		tok, ok, err = svc.GetToken(cmdContext(), tenant, link)
	} else {
		tok, ok, err = svc.GetTokenByLink(cmdContext(), link)
	}
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	if !ok {
		return fmt.Errorf("token %q not found", link)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		model.Token
		State model.TokenState `json:"state"`
	}{tok, tok.State()})
}

// ---------- token describe ----------

func newTokenDescribeCmd() *cobra.Command {
	var tf tenantFlags

	cmd := &cobra.Command{
		Use:   "describe <token-link> <description>",
		Short: "Change the description of an active token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenDescribe(&tf, model.TokenLink(args[0]), args[1])
		},
	}

	tf.register(cmd)
	return cmd
}

func runTokenDescribe(tf *tenantFlags, link model.TokenLink, description string) error {
	svc, st, _, _, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	var ok bool
	if tf.isSet() {
		tenant, terr := tf.tenant()
		if terr != nil {
			return terr
		}
		ok, err = svc.UpdateDescription(cmdContext(), tenant, link, description)
	} else {
		ok, err = svc.UpdateDescriptionByLink(cmdContext(), link, description)
	}
	if err != nil {
		return fmt.Errorf("update description: %w", err)
	}
	if !ok {
		return fmt.Errorf("token %q not found or revoked", link)
	}
	fmt.Printf("Updated description of %s\n", link)
	return nil
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	var (
		tf      tenantFlags
		link    string
		withKey bool
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token by link or by its API key",
		Example: `  tokend token revoke --account 42 --link 6f1c...
  tokend token revoke --account 42 --with-key   # prompts for the API key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tf.tenant()
			if err != nil {
				return err
			}
			req := service.RevokeRequest{Link: model.TokenLink(link)}
			if withKey {
				if req.APIKey, err = readSecret("API key: "); err != nil {
					return err
				}
			}
			return runTokenRevoke(tenant, req)
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVar(&link, "link", "", "Link of the token to revoke")
	cmd.Flags().BoolVar(&withKey, "with-key", false, "Identify the token by its API key, read from the terminal or stdin")
	cmd.MarkFlagsMutuallyExclusive("link", "with-key")
	cmd.MarkFlagsOneRequired("link", "with-key")

	return cmd
}

func runTokenRevoke(tenant model.Tenant, req service.RevokeRequest) error {
	svc, st, _, _, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	at, ok, err := svc.Revoke(cmdContext(), tenant, req)
	if err != nil && !errors.Is(err, service.ErrInvalidToken) {
		return fmt.Errorf("revoke token: %w", err)
	}
	if !ok {
		return errors.New("could not revoke token: not found, already revoked, or not owned by this tenant")
	}
	fmt.Printf("Revoked at %s\n", at.Format(time.RFC3339))
	return nil
}

// ---------- token revoke-all ----------

func newTokenRevokeAllCmd() *cobra.Command {
	var (
		tf  tenantFlags
		yes bool
	)

	cmd := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every active token of a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tf.tenant()
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to revoke all tokens of %s without --yes", tenant)
			}
			return runTokenRevokeAll(tenant)
		},
	}

	tf.register(cmd)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm revocation")

	return cmd
}

func runTokenRevokeAll(tenant model.Tenant) error {
	svc, st, _, _, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := svc.RevokeAll(cmdContext(), tenant)
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	fmt.Printf("Revoked %d token(s) of %s\n", n, tenant)
	return nil
}

// ---------- token check ----------

func newTokenCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Authenticate an API key and print its tenant",
		Long: `Read an API key from the terminal (without echo) or stdin and authenticate it
exactly like GET /v1/api/auth does, including recording its last use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey, err := readSecret("API key: ")
			if err != nil {
				return err
			}
			return runTokenCheck(apiKey)
		},
	}
	return cmd
}

func runTokenCheck(apiKey string) error {
	svc, st, _, _, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	tok, err := svc.Authenticate(cmdContext(), apiKey)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	fmt.Printf("Valid token %s\n", tok.Link)
	fmt.Printf("  Tenant:     %s\n", tok.Tenant())
	fmt.Printf("  Token type: %s\n", tok.PaymentType)
	return nil
}

// --- output helpers ---

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
