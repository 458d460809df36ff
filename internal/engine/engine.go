// Package engine maps each restriction category to the primitive
// calls that lock or unlock it, and keeps the state store in step
// with the OS permission objects. The ordering contract is strict:
// a record is written only after its deny succeeded, and a deny whose
// record cannot be written is rolled back. An applied deny without a
// record is an orphan the recovery protocol can never find.
package engine

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/lockward/internal/acl"
	"github.com/ppiankov/lockward/internal/alert"
	"github.com/ppiankov/lockward/internal/audit"
	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/model"
	"github.com/ppiankov/lockward/internal/proclock"
	"github.com/ppiankov/lockward/internal/state"
)

// lockTimeout bounds how long an operation waits for the
// cross-process lock before giving up.
const lockTimeout = 30 * time.Second

// Engine applies and reverts restrictions.
type Engine struct {
	store  *state.Store
	ctrl   acl.Controller
	cfg    *config.Config
	log    *audit.Log        // optional
	alerts *alert.Dispatcher // optional
}

// New creates an Engine. log and alerts may be nil.
func New(store *state.Store, ctrl acl.Controller, cfg *config.Config, log *audit.Log, alerts *alert.Dispatcher) *Engine {
	return &Engine{
		store:  store,
		ctrl:   ctrl,
		cfg:    cfg,
		log:    log,
		alerts: alerts,
	}
}

// Enable applies the deny/policy primitive for each target and
// records the restriction for user. Per-item failures do not abort
// the remaining targets; a state write failure does, after rolling
// back the deny (or policy value) it could not record.
//
// A positive window arms the fail-safe lock window before the
// cross-process lock is released. Arming it in the same critical
// section matters: a fail-safe sweep between the enable and a
// separate arming step would see records with no window and revert
// them immediately.
//
// Re-enabling an already-locked target re-applies the deny (the
// primitives de-duplicate identical entries) and leaves the single
// existing record in place.
func (e *Engine) Enable(user string, targets []model.Target, window time.Duration) (*model.Report, error) {
	if user == "" {
		return nil, fmt.Errorf("engine: user is required")
	}

	lock, err := proclock.Acquire(e.cfg.LockFile, lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	defer lock.Release()

	runID := newRunID()
	report := &model.Report{}

	for _, target := range targets {
		rec := model.RestrictionRecord{Category: target.Category, Key: target.Key, User: user}

		h, err := e.handlerFor(target)
		if err != nil {
			report.Add(rec, err)
			e.record(runID, h.auditAction(), rec, err)
			continue
		}

		if h.global {
			err := e.enforceGlobal(runID, h)
			report.Add(rec, err)
			if errors.Is(err, state.ErrStore) {
				// The toggle could not be recorded and the policy was
				// rolled back; stop like the per-user path does.
				e.dispatch(runID, "enable", report, user)
				return report, err
			}
			continue
		}

		if err := h.lock(e.ctrl, user); err != nil {
			report.Add(rec, err)
			e.record(runID, h.auditAction(), rec, err)
			continue
		}

		if err := e.store.Set(rec); err != nil {
			// Roll back the deny we cannot track, then stop: advancing
			// past a failed state write manufactures orphans.
			if revertErr := h.unlock(e.ctrl, user); revertErr != nil {
				fmt.Fprintf(os.Stderr, "engine: rollback of %s/%s failed: %v\n", target.Category, target.Key, revertErr)
			}
			report.Add(rec, err)
			e.record(runID, h.auditAction(), rec, err)
			e.dispatch(runID, "enable", report, user)
			return report, err
		}

		report.Add(rec, nil)
		e.record(runID, h.auditAction(), rec, nil)
	}

	if window > 0 && len(report.Items) > len(report.Failed()) {
		if err := e.armLockWindow(runID, window); err != nil {
			report.Add(model.RestrictionRecord{}, err)
			e.dispatch(runID, "enable", report, user)
			return report, err
		}
	}

	e.dispatch(runID, "enable", report, user)
	return report, nil
}

// Disable reverts restrictions. A non-empty user reverts only that
// user's records; an empty user reverts every record regardless of
// owner (full disable / recovery mode). Each revert uses the user
// stored on the record, never the caller's identity.
//
// A record whose revert failed is retained so a later pass retries
// it; a revert against a vanished object drops the record with a
// warning.
func (e *Engine) Disable(user string) (*model.Report, error) {
	lock, err := proclock.Acquire(e.cfg.LockFile, lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	defer lock.Release()

	return e.disableLocked(user)
}

// DisableHeld is Disable for callers that already hold the
// cross-process lock (the fail-safe protocol).
func (e *Engine) DisableHeld(user string) (*model.Report, error) {
	return e.disableLocked(user)
}

func (e *Engine) disableLocked(user string) (*model.Report, error) {
	var (
		records []model.RestrictionRecord
		err     error
	)
	if user == "" {
		records, err = e.store.GetAll()
	} else {
		records, err = e.store.GetUser(user)
	}
	if err != nil {
		return nil, err
	}

	runID := newRunID()
	report := &model.Report{}

	for _, rec := range records {
		h, herr := e.handlerFor(model.Target{Category: rec.Category, Key: rec.Key})
		if herr != nil {
			// A record for a resource the config no longer names.
			// Keep the record; dropping it silently would hide the
			// mismatch from the operator.
			report.Add(rec, herr)
			e.record(runID, audit.ActionRevert, rec, herr)
			continue
		}

		revertErr := h.unlock(e.ctrl, rec.User)

		var notFound *acl.NotFoundError
		switch {
		case revertErr == nil:
			if err := e.store.Remove(rec); err != nil {
				report.Add(rec, err)
				e.record(runID, audit.ActionRevert, rec, err)
				continue
			}
			report.Add(rec, nil)
			e.record(runID, audit.ActionRevert, rec, nil)

		case errors.As(revertErr, &notFound):
			// Object is gone; nothing left to revert. Drop the record.
			fmt.Fprintf(os.Stderr, "engine: %s/%s vanished, dropping record\n", rec.Category, rec.Key)
			if err := e.store.Remove(rec); err != nil {
				report.Add(rec, err)
				e.record(runID, audit.ActionRevert, rec, err)
				continue
			}
			report.Add(rec, nil)
			e.record(runID, audit.ActionRevert, rec, revertErr)

		default:
			// Revert did not take effect: retain the record so a
			// future pass retries this resource.
			report.Add(rec, revertErr)
			e.record(runID, audit.ActionRevert, rec, revertErr)
		}
	}

	if user == "" {
		if err := e.relaxGlobals(runID); err != nil {
			report.Add(model.RestrictionRecord{Category: model.SystemPolicy}, err)
		}
		if len(report.Failed()) == 0 {
			if err := e.store.ClearAll(); err != nil {
				return report, err
			}
			if err := e.store.ClearLockWindow(); err != nil {
				return report, err
			}
		}
	} else if len(report.Failed()) == 0 {
		// When the last record is gone the lock window has nothing
		// left to guard.
		remaining, err := e.store.GetAll()
		if err != nil {
			return report, err
		}
		if len(remaining) == 0 {
			if err := e.store.ClearLockWindow(); err != nil {
				return report, err
			}
		}
	}

	e.dispatch(runID, "disable", report, user)
	return report, nil
}

// enforceGlobal applies a machine-global policy (the UAC case): the
// restricted value is written and the toggle recorded in the config
// branch, never as a per-user record. Setting the same value twice is
// harmless. A restricted value whose toggle cannot be recorded is
// rolled back to the default: no disable or recovery pass would ever
// relax an unrecorded policy.
func (e *Engine) enforceGlobal(runID string, h handler) error {
	rec := model.RestrictionRecord{Category: model.SystemPolicy, Key: h.key}

	if err := h.lock(e.ctrl, ""); err != nil {
		e.record(runID, audit.ActionUACSet, rec, err)
		return err
	}
	if err := e.store.SetUACEnforced(true); err != nil {
		if revertErr := h.unlock(e.ctrl, ""); revertErr != nil {
			fmt.Fprintf(os.Stderr, "engine: rollback of policy %s failed: %v\n", h.key, revertErr)
		}
		e.record(runID, audit.ActionUACSet, rec, err)
		return err
	}
	e.record(runID, audit.ActionUACSet, rec, nil)
	return nil
}

// relaxGlobals reverts machine-global policies exactly once, guarded
// by the stored toggle rather than any user-scoped record.
func (e *Engine) relaxGlobals(runID string) error {
	enforced, err := e.store.UACEnforced()
	if err != nil {
		return err
	}
	if !enforced {
		return nil
	}

	for _, p := range e.cfg.Policies {
		if !p.Global {
			continue
		}
		rec := model.RestrictionRecord{Category: model.SystemPolicy, Key: p.Name}
		ref := acl.ObjectRef{Kind: acl.ObjectRegistryKey, Path: p.KeyPath}
		if err := e.ctrl.SetPolicyValue(ref, p.ValueName, p.Default); err != nil {
			e.record(runID, audit.ActionUACSet, rec, err)
			return err
		}
		e.record(runID, audit.ActionUACSet, rec, nil)
	}

	return e.store.SetUACEnforced(false)
}

// ArmLockWindow records the fail-safe window under the cross-process
// lock: restrictions enabled now, to be force-reverted after the
// given duration. Enable arms the window itself when given one; this
// entry point re-arms or extends it afterwards.
func (e *Engine) ArmLockWindow(duration time.Duration) error {
	lock, err := proclock.Acquire(e.cfg.LockFile, lockTimeout)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer lock.Release()

	return e.armLockWindow(newRunID(), duration)
}

func (e *Engine) armLockWindow(runID string, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("engine: lock duration must be positive")
	}
	start := time.Now().UTC()
	if err := e.store.SetLockWindow(start, duration); err != nil {
		return err
	}
	e.record(runID, audit.ActionLockWindow, model.RestrictionRecord{}, nil)
	return nil
}

// Status summarizes the store for display.
type Status struct {
	Records     []model.RestrictionRecord
	UACEnforced bool
	WindowSet   bool
	UnlockAt    time.Time
}

// Status reports the active restrictions, the UAC toggle, and the
// fail-safe window.
func (e *Engine) Status() (*Status, error) {
	records, err := e.store.GetAll()
	if err != nil {
		return nil, err
	}
	uac, err := e.store.UACEnforced()
	if err != nil {
		return nil, err
	}

	st := &Status{Records: records, UACEnforced: uac}
	start, dur, ok, err := e.store.LockWindow()
	if err != nil {
		return nil, err
	}
	if ok {
		st.WindowSet = true
		st.UnlockAt = start.Add(dur)
	}
	return st, nil
}

func (e *Engine) record(runID, action string, rec model.RestrictionRecord, err error) {
	if e.log == nil {
		return
	}
	entry := audit.AuditEntry{
		RunID:    runID,
		Action:   action,
		Category: string(rec.Category),
		Resource: rec.Key,
		User:     rec.User,
		Outcome:  "success",
	}
	if err != nil {
		entry.Outcome = "failed"
		entry.Detail = err.Error()
	}
	if recordErr := e.log.Record(entry); recordErr != nil {
		fmt.Fprintf(os.Stderr, "engine: audit: %v\n", recordErr)
	}
}

func (e *Engine) dispatch(runID, eventType string, report *model.Report, user string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Dispatch(alert.AlertEvent{
		Timestamp: time.Now().UTC().Format(audit.TimestampFormat),
		RunID:     runID,
		Type:      eventType,
		User:      user,
		Outcome:   string(report.Outcome()),
	})
}

func newRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run-%x", time.Now().UnixNano())
	}
	return "run-" + hex.EncodeToString(b)
}
