package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/integrity"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "lockward",
	Short: "Reversible write restrictions for system objects",
	Long: "Applies deny permissions on network adapter registry keys, protected\n" +
		"files, and system policies, per user, and tracks every applied lock so\n" +
		"it can be reverted exactly. The unattended fail-safe runner force-reverts\n" +
		"everything once the lock window elapses.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := integrity.Verify(cfg.Alerts); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.lockward/lockward.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
