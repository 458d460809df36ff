package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockward/internal/failsafe"
	"github.com/ppiankov/lockward/internal/release"
	"github.com/ppiankov/lockward/internal/systemd"
)

var watchInterval time.Duration

func init() {
	rootCmd.AddCommand(failsafeCmd)
	failsafeCmd.AddCommand(failsafeRunCmd)
	failsafeCmd.AddCommand(failsafeWatchCmd)
	failsafeWatchCmd.Flags().DurationVar(&watchInterval, "interval", time.Minute, "Sweep interval")
}

var failsafeCmd = &cobra.Command{
	Use:   "failsafe",
	Short: "Unattended recovery protocol",
	Long: "The fail-safe force-reverts every restriction once the lock window has\n" +
		"elapsed. Only the configured fail-safe identity may run it, and it never\n" +
		"unlocks early unless an early-release token was minted.",
}

var failsafeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Attempt one recovery run",
	RunE:  runFailsafeOnce,
}

var failsafeWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sweep continuously until interrupted",
	Long: "Runs the recovery protocol on an interval and wakes early when an\n" +
		"early-release token appears. Refuses to start when another watcher\n" +
		"already holds the watch lock.",
	RunE: runFailsafeWatch,
}

func newProtocol() (*failsafe.Protocol, *app, error) {
	a, err := openApp()
	if err != nil {
		return nil, nil, err
	}
	releases, err := release.NewStore(a.cfg.ReleaseDir)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return failsafe.New(a.store, a.eng, a.cfg, a.log, a.alerts, releases), a, nil
}

func runFailsafeOnce(cmd *cobra.Command, args []string) error {
	p, a, err := newProtocol()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := p.Run()
	switch {
	case err == nil:
		if res.Report == nil {
			fmt.Println("Nothing to revert.")
		} else {
			fmt.Printf("Run %s: reverted %d restriction(s)\n", res.RunID, len(res.Report.Items))
			if res.EarlyRelease != nil {
				fmt.Printf("Authorized early by token %s (%s)\n", res.EarlyRelease.ID, res.EarlyRelease.Reason)
			}
		}
		return nil
	case errors.Is(err, failsafe.ErrTimerNotElapsed):
		fmt.Println(err)
		return nil
	default:
		return err
	}
}

func runFailsafeWatch(cmd *cobra.Command, args []string) error {
	p, a, err := newProtocol()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if warn := systemd.CheckUnitFileIntegrity(); warn != "" {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", warn)
	}

	w := failsafe.NewWatcher(p, a.cfg.ReleaseDir, a.cfg.LockFile+".watch", watchInterval)
	fmt.Fprintf(os.Stderr, "lockward: fail-safe watch started (interval %s)\n", watchInterval)
	return w.Run(ctx)
}
