package cli

import (
	"fmt"
	"os"

	"github.com/ppiankov/lockward/internal/acl"
	"github.com/ppiankov/lockward/internal/alert"
	"github.com/ppiankov/lockward/internal/audit"
	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/engine"
	"github.com/ppiankov/lockward/internal/state"
)

// app bundles the wired components a command needs. Close releases
// the store and audit log.
type app struct {
	cfg    *config.Config
	store  *state.Store
	log    *audit.Log
	alerts *alert.Dispatcher
	eng    *engine.Engine
}

// openApp loads config and opens the store, audit log, and engine
// against the real exec-backed permission controller.
func openApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		return nil, err
	}

	log, err := audit.Open(cfg.AuditLog)
	if err != nil {
		store.Close()
		return nil, err
	}

	ctrl := acl.NewExecController(cfg.Commands)
	alerts := alert.NewDispatcher(cfg.Alerts)

	return &app{
		cfg:    cfg,
		store:  store,
		log:    log,
		alerts: alerts,
		eng:    engine.New(store, ctrl, cfg, log, alerts),
	}, nil
}

func (a *app) Close() {
	if err := a.log.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "cli: close audit log: %v\n", err)
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "cli: close state store: %v\n", err)
	}
}
