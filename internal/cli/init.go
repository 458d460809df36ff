package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/systemd"
)

var (
	initForce          bool
	initInstallService bool
)

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initInstallService, "install-service", false, "Install the lockward-failsafe systemd unit (requires root)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the lockward configuration",
	Long: "Creates ~/.lockward with a commented default lockward.yaml and the\n" +
		"release token directory. Existing files are left alone unless --force\n" +
		"is given.",
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	base := config.BaseDir()
	if err := os.MkdirAll(base, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "release"), 0o700); err != nil {
		return fmt.Errorf("create release directory: %w", err)
	}

	var created []string
	cfgPath := config.DefaultPath()
	if wrote, err := writeIfMissing(cfgPath, config.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, cfgPath)
	}

	if initInstallService {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-service is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-service requires root; run with sudo")
		}

		unitPath := systemd.UnitFilePaths[0]
		if err := os.WriteFile(unitPath, []byte(systemd.FailsafeTemplate()), 0o644); err != nil {
			return fmt.Errorf("write systemd unit: %w", err)
		}
		created = append(created, unitPath)

		if err := os.MkdirAll(filepath.Dir(systemd.UnitHashPath), 0o700); err == nil {
			if err := systemd.RecordUnitFileHash(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: record unit hash: %v\n", err)
			}
		}
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	fmt.Println("lockward init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
	}
	fmt.Println()
	fmt.Println("Lock the hosts file for a user:")
	fmt.Println("  lockward enable <user> --file hosts")
	fmt.Println()
	fmt.Println("Run the unattended fail-safe:")
	fmt.Println("  lockward-failsafe --interval 1m")
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force
// is set. Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
