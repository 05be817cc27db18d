package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftmail/driftmail/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	insecure  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driftmail",
	Short: "Driftmail forwarding-alias CLI",
	Long: `driftmail is the command-line interface for a Driftmail server.

Every mutation is confirmation-gated: requesting an alias or an API key
mails a one-time code to the owning address, and nothing happens until
that code is redeemed with "driftmail confirm".`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.driftmail")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.driftmail/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Driftmail server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")

	rootCmd.AddCommand(aliasCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient(opts ...client.Option) (*client.Client, error) {
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	return client.New(serverURL, opts...)
}

// printConfirmationResult reports the outcome of a confirmation request,
// including throttle details when the server refused to send.
func printConfirmationResult(res *client.ConfirmationResult, err error) error {
	if errors.Is(err, client.ErrThrottled) && res != nil {
		fmt.Printf("✗ Not sent (%s)\n\n", res.Action)
		fmt.Printf("  Mails sent so far:   %d\n", res.Meta.SendCount)
		fmt.Printf("  Resends remaining:   %d\n", res.Meta.RemainingAttempts)
		if !res.Meta.NextAllowedSendAt.IsZero() {
			fmt.Printf("  Next send allowed:   %s\n", res.Meta.NextAllowedSendAt.Local().Format(time.RFC1123))
		}
		return nil
	}
	if err != nil {
		return err
	}

	switch res.Action {
	case "created":
		fmt.Printf("✓ Confirmation mail sent\n\n")
	case "resent":
		fmt.Printf("✓ Confirmation mail re-sent\n\n")
	}
	fmt.Printf("  Expires:             %s\n", res.Meta.ExpiresAt.Local().Format(time.RFC1123))
	fmt.Printf("  Resends remaining:   %d\n\n", res.Meta.RemainingAttempts)
	fmt.Println("Next: driftmail confirm <code-from-mail>")
	return nil
}

// ── alias ────────────────────────────────────────────────────────────────────

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Request forwarding-alias creation or removal",
}

var (
	aliasEmail     string
	aliasDomain    string
	aliasLocalPart string
)

var aliasRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a new forwarding alias (confirmation mailed to --email)",
	Long: `Request a new forwarding alias on the given domain.

Without --local-part the server generates a random local part at
confirmation time. With --local-part the exact address is reserved,
and the request fails at confirmation if it is already taken:

  driftmail alias request --email me@example.org --domain mail.example.com
  driftmail alias request --email me@example.org --domain mail.example.com --local-part shopping`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		intent := "create_alias"
		if aliasLocalPart != "" {
			intent = "create_alias_address"
		}

		res, err := c.RequestConfirmation(context.Background(), aliasEmail, intent, client.Payload{
			LocalPart: aliasLocalPart,
			Domain:    aliasDomain,
		})
		return printConfirmationResult(res, err)
	},
}

var aliasRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Request removal of a forwarding alias (confirmation mailed to --email)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		res, err := c.RequestConfirmation(context.Background(), aliasEmail, "delete_alias", client.Payload{
			LocalPart: aliasLocalPart,
			Domain:    aliasDomain,
		})
		return printConfirmationResult(res, err)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{aliasRequestCmd, aliasRemoveCmd} {
		cmd.Flags().StringVar(&aliasEmail, "email", "", "Destination address that owns the alias")
		cmd.Flags().StringVar(&aliasDomain, "domain", "", "Alias domain (must be served by this Driftmail instance)")
		cmd.Flags().StringVar(&aliasLocalPart, "local-part", "", "Local part of the alias address")
		_ = cmd.MarkFlagRequired("email")
		_ = cmd.MarkFlagRequired("domain")
	}
	_ = aliasRemoveCmd.MarkFlagRequired("local-part")

	aliasCmd.AddCommand(aliasRequestCmd)
	aliasCmd.AddCommand(aliasRemoveCmd)
}

// ── apikey ───────────────────────────────────────────────────────────────────

var (
	apikeyEmail        string
	apikeyLifetimeDays int
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API credentials",
}

var apikeyRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a new API key (confirmation mailed to --email)",
	Long: `Request a new API key for the given address.

The key itself is only revealed once, in the output of the confirm
step — store it immediately:

  driftmail apikey request --email me@example.org --lifetime-days 90`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		res, err := c.RequestConfirmation(context.Background(), apikeyEmail, "issue_credential", client.Payload{
			LifetimeDays: apikeyLifetimeDays,
		})
		return printConfirmationResult(res, err)
	},
}

func init() {
	apikeyRequestCmd.Flags().StringVar(&apikeyEmail, "email", "", "Address that will own the credential")
	apikeyRequestCmd.Flags().IntVar(&apikeyLifetimeDays, "lifetime-days", 0, "Credential lifetime in days (server default when 0, max 365)")
	_ = apikeyRequestCmd.MarkFlagRequired("email")

	apikeyCmd.AddCommand(apikeyRequestCmd)
}

// ── confirm ──────────────────────────────────────────────────────────────────

var confirmFormat string

var confirmCmd = &cobra.Command{
	Use:   "confirm <token>",
	Short: "Redeem a confirmation code from a Driftmail mail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		res, err := c.Redeem(context.Background(), args[0])
		if err != nil {
			if errors.Is(err, client.ErrInvalidOrExpired) {
				return fmt.Errorf("that code is invalid, already used, or expired — request a fresh one")
			}
			return err
		}

		if confirmFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		switch res.Outcome.Status {
		case "applied":
			fmt.Printf("✓ Confirmed (%s)\n\n", res.Intent)
			if res.Outcome.AliasAddress != "" {
				fmt.Printf("  Alias: %s\n", res.Outcome.AliasAddress)
			}
			if res.APIKey != "" {
				fmt.Printf("  API key: %s\n\n", res.APIKey)
				fmt.Println("Store this key now — it will not be shown again.")
			}
			if res.Outcome.CredentialExpiresAt != nil {
				fmt.Printf("  Key expires: %s\n", res.Outcome.CredentialExpiresAt.Local().Format(time.RFC1123))
			}
		case "already_exists":
			fmt.Printf("✗ Address %s is already taken\n", res.Outcome.AliasAddress)
		case "not_found":
			fmt.Println("✗ That alias no longer exists")
		case "owner_mismatch":
			fmt.Println("✗ That alias does not forward to your address")
		default:
			fmt.Printf("Outcome: %s\n", res.Outcome.Status)
		}
		return nil
	},
}

func init() {
	confirmCmd.Flags().StringVar(&confirmFormat, "format", "text", "Output format: text or json")
}

// ── admin ────────────────────────────────────────────────────────────────────

var adminSecret string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations (require --admin-secret)",
}

var adminAddDomainCmd = &cobra.Command{
	Use:   "add-domain <name>",
	Short: "Register a new alias domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(client.WithAdminSecret(adminSecret))
		if err != nil {
			return err
		}

		d, err := c.AddDomain(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("add domain: %w", err)
		}
		fmt.Printf("✓ Domain registered\n\n  ID:   %s\n  Name: %s\n", d.ID, d.Name)
		return nil
	},
}

var adminRevokeCredCmd = &cobra.Command{
	Use:   "revoke-credential <id>",
	Short: "Revoke an API credential by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(client.WithAdminSecret(adminSecret))
		if err != nil {
			return err
		}

		if err := c.RevokeCredential(context.Background(), args[0]); err != nil {
			return fmt.Errorf("revoke credential: %w", err)
		}
		fmt.Println("✓ Credential revoked")
		return nil
	},
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", "", "Server admin secret")
	_ = adminCmd.MarkPersistentFlagRequired("admin-secret")

	adminCmd.AddCommand(adminAddDomainCmd)
	adminCmd.AddCommand(adminRevokeCredCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the driftmail CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("driftmail %s\n", version)
	},
}
