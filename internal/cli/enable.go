package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockward/internal/acl"
	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/model"
)

var (
	enableAdapters []string
	enableFiles    []string
	enablePolicies []string
	enableUAC      bool
	enableDuration time.Duration
	enableDryRun   bool
)

func init() {
	enableCmd.Flags().StringArrayVar(&enableAdapters, "adapter", nil, "Network adapter interface ID to lock (repeatable)")
	enableCmd.Flags().StringArrayVar(&enableFiles, "file", nil, "Protected file name from config to lock (repeatable)")
	enableCmd.Flags().StringArrayVar(&enablePolicies, "policy", nil, "System policy name from config to restrict (repeatable)")
	enableCmd.Flags().BoolVar(&enableUAC, "uac", false, "Also enforce the machine-global UAC policy")
	enableCmd.Flags().DurationVar(&enableDuration, "duration", 0, "Arm the fail-safe lock window for this long")
	enableCmd.Flags().BoolVar(&enableDryRun, "dry-run", false, "Resolve targets and print the plan without applying anything")
	rootCmd.AddCommand(enableCmd)
}

var enableCmd = &cobra.Command{
	Use:   "enable <user>",
	Short: "Apply restrictions for a user",
	Long: "Applies deny permissions for the given user on each named target and\n" +
		"records every applied lock. A target that fails does not stop the rest;\n" +
		"the command reports per-target results and exits non-zero on any failure.",
	Args: cobra.ExactArgs(1),
	RunE: runEnable,
}

func runEnable(cmd *cobra.Command, args []string) error {
	user := args[0]
	targets := buildTargets()
	if len(targets) == 0 {
		return fmt.Errorf("nothing to enable: pass --adapter, --file, --policy, or --uac")
	}

	if enableDryRun {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return printPlan(cfg, user, targets)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// The window is armed inside Enable's critical section so a
	// fail-safe sweep can never land between the applies and the
	// arming.
	report, err := a.eng.Enable(user, targets, enableDuration)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		return err
	}
	if len(report.Failed()) > 0 {
		return fmt.Errorf("%d of %d targets failed", len(report.Failed()), len(report.Items))
	}

	if enableDuration > 0 {
		fmt.Printf("Lock window armed: fail-safe unlocks at %s\n",
			time.Now().UTC().Add(enableDuration).Format(time.RFC3339))
	}
	return nil
}

func buildTargets() []model.Target {
	var targets []model.Target
	for _, id := range enableAdapters {
		targets = append(targets, model.Target{Category: model.NetworkAdapter, Key: id})
	}
	for _, name := range enableFiles {
		targets = append(targets, model.Target{Category: model.ProtectedFile, Key: name})
	}
	for _, name := range enablePolicies {
		targets = append(targets, model.Target{Category: model.SystemPolicy, Key: name})
	}
	if enableUAC {
		targets = append(targets, model.Target{Category: model.SystemPolicy, Key: "uac"})
	}
	return targets
}

// printPlan resolves each target to the object it would touch, without
// applying anything.
func printPlan(cfg *config.Config, user string, targets []model.Target) error {
	fmt.Printf("Dry run: restrictions for %s\n", user)
	var unresolved int
	for _, t := range targets {
		switch t.Category {
		case model.NetworkAdapter:
			fmt.Printf("  deny %-10s %s on key:%s\n", user, acl.JoinRights(acl.AdapterKeyRights), cfg.AdapterKey(t.Key))
		case model.ProtectedFile:
			spec, ok := cfg.ProtectedFile(t.Key)
			if !ok {
				fmt.Printf("  UNKNOWN protected file %q\n", t.Key)
				unresolved++
				continue
			}
			fmt.Printf("  deny %-10s %s on file:%s\n", user, acl.JoinRights(acl.ProtectedFileRights), spec.Path)
		case model.SystemPolicy:
			spec, ok := cfg.Policy(t.Key)
			if !ok {
				fmt.Printf("  UNKNOWN policy %q\n", t.Key)
				unresolved++
				continue
			}
			scope := "per-user record"
			if spec.Global {
				scope = "machine-global"
			}
			fmt.Printf("  set  %s\\%s = %s (%s)\n", spec.KeyPath, spec.ValueName, spec.Restricted, scope)
		}
	}
	if unresolved > 0 {
		return fmt.Errorf("%d target(s) not present in config", unresolved)
	}
	return nil
}

func printReport(report *model.Report) {
	for _, item := range report.Items {
		if item.Err != nil {
			fmt.Fprintf(os.Stderr, "FAILED %s/%s: %v\n", item.Record.Category, item.Record.Key, item.Err)
			continue
		}
		fmt.Printf("ok     %s/%s\n", item.Record.Category, item.Record.Key)
	}
}
