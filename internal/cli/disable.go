package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(disableCmd)
}

var disableCmd = &cobra.Command{
	Use:   "disable [user]",
	Short: "Revert restrictions",
	Long: "Reverts restrictions for one user, or for everyone when no user is\n" +
		"given. A full disable also relaxes machine-global policies and clears\n" +
		"the fail-safe lock window. Records whose revert fails are retained so\n" +
		"a later pass can retry them.",
	Args: cobra.MaximumNArgs(1),
	RunE: runDisable,
}

func runDisable(cmd *cobra.Command, args []string) error {
	user := ""
	if len(args) == 1 {
		user = args[0]
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.eng.Disable(user)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		return err
	}

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d reverts failed; their records were retained", len(failed), len(report.Items))
	}
	if len(report.Items) == 0 {
		fmt.Println("Nothing to revert.")
	}
	return nil
}
