package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active restrictions and the fail-safe window",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.eng.Status()
	if err != nil {
		return err
	}

	if len(st.Records) == 0 {
		fmt.Println("No active restrictions.")
	} else {
		fmt.Printf("%-18s %-40s %s\n", "CATEGORY", "RESOURCE", "USER")
		for _, rec := range st.Records {
			fmt.Printf("%-18s %-40s %s\n", rec.Category, rec.Key, rec.User)
		}
	}

	fmt.Println()
	if st.UACEnforced {
		fmt.Println("UAC: enforced (machine-global)")
	} else {
		fmt.Println("UAC: not enforced")
	}

	if st.WindowSet {
		remaining := time.Until(st.UnlockAt).Round(time.Second)
		if remaining > 0 {
			fmt.Printf("Fail-safe window: unlocks at %s (%s remaining)\n",
				st.UnlockAt.Format(time.RFC3339), remaining)
		} else {
			fmt.Printf("Fail-safe window: elapsed at %s (awaiting fail-safe run)\n",
				st.UnlockAt.Format(time.RFC3339))
		}
	} else {
		fmt.Println("Fail-safe window: not armed")
	}
	return nil
}
