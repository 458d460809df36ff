package cli

import (
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/release"
)

var (
	relReason   string
	relDuration time.Duration
)

func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.AddCommand(releaseListCmd)
	releaseCmd.AddCommand(releaseRevokeCmd)
	releaseCmd.Flags().StringVar(&relReason, "reason", "", "Mandatory reason for the early release (required)")
	releaseCmd.Flags().DurationVar(&relDuration, "duration", release.DefaultValidity, "Token validity period (max 2h)")
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Mint an early-release token for the fail-safe",
	Long: "Creates a time-limited, single-use token that lets the fail-safe revert\n" +
		"restrictions before the lock window elapses. Without an active token the\n" +
		"fail-safe never unlocks early.",
	RunE: runReleaseMint,
}

var releaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List early-release tokens",
	RunE:  runReleaseList,
}

var releaseRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke an early-release token",
	Args:  cobra.ExactArgs(1),
	RunE:  runReleaseRevoke,
}

func openReleaseStore() (*release.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return release.NewStore(cfg.ReleaseDir)
}

func runReleaseMint(cmd *cobra.Command, args []string) error {
	if relReason == "" {
		return fmt.Errorf("--reason is required")
	}

	store, err := openReleaseStore()
	if err != nil {
		return err
	}

	requestedBy := ""
	if u, err := user.Current(); err == nil {
		requestedBy = u.Username
	}

	token, err := store.Mint(relReason, requestedBy, relDuration)
	if err != nil {
		return err
	}

	fmt.Printf("Early-release token minted: %s\n", token.ID)
	fmt.Printf("Reason:  %s\n", token.Reason)
	fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("The next fail-safe run consumes this token and reverts everything,")
	fmt.Println("even if the lock window has not elapsed.")
	return nil
}

func runReleaseList(cmd *cobra.Command, args []string) error {
	store, err := openReleaseStore()
	if err != nil {
		return err
	}

	tokens, err := store.List()
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Println("No early-release tokens.")
		return nil
	}

	fmt.Printf("%-22s %-10s %-30s %-25s\n", "ID", "STATUS", "REASON", "EXPIRES")
	for _, t := range tokens {
		status := "active"
		switch {
		case t.ConsumedAt != nil:
			status = "consumed"
		case t.RevokedAt != nil:
			status = "revoked"
		case !t.Active():
			status = "expired"
		}

		reason := t.Reason
		if len(reason) > 28 {
			reason = reason[:28] + ".."
		}
		fmt.Printf("%-22s %-10s %-30s %-25s\n",
			t.ID, status, reason, t.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runReleaseRevoke(cmd *cobra.Command, args []string) error {
	store, err := openReleaseStore()
	if err != nil {
		return err
	}
	if err := store.Revoke(args[0]); err != nil {
		return err
	}
	fmt.Printf("Revoked token %s\n", args[0])
	return nil
}
