// lockward-failsafe is the unattended recovery runner. Meant to run as the
// designated fail-safe identity (a scheduled task or service), it
// sweeps on an interval and force-reverts every restriction once the
// lock window elapses or an early-release token appears. It shares
// the state store, audit log, and cross-process lock with the CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/lockward/internal/acl"
	"github.com/ppiankov/lockward/internal/alert"
	"github.com/ppiankov/lockward/internal/audit"
	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/engine"
	"github.com/ppiankov/lockward/internal/failsafe"
	"github.com/ppiankov/lockward/internal/integrity"
	"github.com/ppiankov/lockward/internal/release"
	"github.com/ppiankov/lockward/internal/state"
	"github.com/ppiankov/lockward/internal/systemd"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "config file (default ~/.lockward/lockward.yaml)")
		interval = flag.Duration("interval", time.Minute, "sweep interval")
		once     = flag.Bool("once", false, "attempt a single run and exit")
	)
	flag.Parse()

	if err := run(*cfgPath, *interval, *once); err != nil {
		fmt.Fprintf(os.Stderr, "lockward-failsafe: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string, interval time.Duration, once bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := integrity.Verify(cfg.Alerts); err != nil {
		return err
	}

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		return err
	}
	defer store.Close()

	log, err := audit.Open(cfg.AuditLog)
	if err != nil {
		return err
	}
	defer log.Close()

	releases, err := release.NewStore(cfg.ReleaseDir)
	if err != nil {
		return err
	}

	ctrl := acl.NewExecController(cfg.Commands)
	alerts := alert.NewDispatcher(cfg.Alerts)
	eng := engine.New(store, ctrl, cfg, log, alerts)
	protocol := failsafe.New(store, eng, cfg, log, alerts, releases)

	if once {
		res, err := protocol.Run()
		if err != nil {
			return err
		}
		if res.Report != nil {
			fmt.Printf("run %s: reverted %d restriction(s)\n", res.RunID, len(res.Report.Items))
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if warn := systemd.CheckUnitFileIntegrity(); warn != "" {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", warn)
	}

	w := failsafe.NewWatcher(protocol, cfg.ReleaseDir, cfg.LockFile+".watch", interval)
	fmt.Fprintf(os.Stderr, "lockward-failsafe: watching (interval %s)\n", interval)
	return w.Run(ctx)
}
