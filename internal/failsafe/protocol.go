// Package failsafe implements the unattended recovery protocol: a
// gated, ordered sequence that force-reverts every restriction once
// the lock window has elapsed. The gates are strict. A caller that is
// not the designated identity gets nothing; a timer that has not
// elapsed unlocks nothing unless an administrator minted an
// early-release token. The protocol reverts either everything or as
// much as it can, and it never unlocks early on its own.
package failsafe

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/ppiankov/lockward/internal/alert"
	"github.com/ppiankov/lockward/internal/audit"
	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/engine"
	"github.com/ppiankov/lockward/internal/model"
	"github.com/ppiankov/lockward/internal/proclock"
	"github.com/ppiankov/lockward/internal/release"
	"github.com/ppiankov/lockward/internal/state"
)

// lockTimeout bounds how long a recovery run waits for the
// cross-process lock.
const lockTimeout = 30 * time.Second

var (
	// ErrWrongIdentity means the caller is not the designated
	// fail-safe principal.
	ErrWrongIdentity = errors.New("failsafe: caller is not the designated identity")
	// ErrTimerNotElapsed means the lock window is still open and no
	// early-release token authorized the run.
	ErrTimerNotElapsed = errors.New("failsafe: lock window has not elapsed")
)

// Result summarizes one recovery run.
type Result struct {
	RunID string
	// Report is nil when the store held nothing to revert.
	Report *model.Report
	// EarlyRelease is set when a token, not the timer, opened the gate.
	EarlyRelease *release.Token
	// UnlockAt is the deadline that gated the run (zero when no window
	// was armed).
	UnlockAt time.Time
}

// Protocol runs the recovery sequence.
type Protocol struct {
	store    *state.Store
	eng      *engine.Engine
	cfg      *config.Config
	log      *audit.Log        // optional
	alerts   *alert.Dispatcher // optional
	releases *release.Store    // optional; nil disables early release

	// identity is swappable in tests.
	identity func() (string, error)
}

// New creates a Protocol. log, alerts, and releases may be nil.
func New(store *state.Store, eng *engine.Engine, cfg *config.Config, log *audit.Log, alerts *alert.Dispatcher, releases *release.Store) *Protocol {
	return &Protocol{
		store:    store,
		eng:      eng,
		cfg:      cfg,
		log:      log,
		alerts:   alerts,
		releases: releases,
		identity: currentIdentity,
	}
}

// Run executes the full recovery sequence: identity gate, timer gate,
// revert all, clear globals, terminal record. Re-running against an
// already clean store succeeds and changes nothing.
func (p *Protocol) Run() (*Result, error) {
	if err := p.identityGate(); err != nil {
		return nil, err
	}

	lock, err := proclock.Acquire(p.cfg.LockFile, lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failsafe: %w", err)
	}
	defer lock.Release()

	runID := newRunID()
	res := &Result{RunID: runID}

	records, err := p.store.GetAll()
	if err != nil {
		return nil, err
	}
	uac, err := p.store.UACEnforced()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && !uac {
		// Nothing locked. Clear a stale window if one lingers and stop.
		if err := p.store.ClearLockWindow(); err != nil {
			return nil, err
		}
		p.record(runID, "success", "nothing to revert")
		return res, nil
	}

	token, unlockAt, err := p.timerGate(runID)
	if err != nil {
		return nil, err
	}
	res.EarlyRelease = token
	res.UnlockAt = unlockAt

	// Revert everything regardless of owner. Per-item failures do not
	// stop the sweep; DisableHeld retains failed records for the next
	// pass and clears the store and window only on a clean sweep.
	report, err := p.eng.DisableHeld("")
	if err != nil {
		p.record(runID, "failed", err.Error())
		return res, err
	}
	res.Report = report

	outcome := string(report.Outcome())
	detail := ""
	if failed := report.Failed(); len(failed) > 0 {
		detail = fmt.Sprintf("%d of %d reverts failed", len(failed), len(report.Items))
	}
	p.record(runID, outcome, detail)
	p.dispatch(runID, report)

	if len(report.Failed()) > 0 {
		return res, fmt.Errorf("failsafe: %s", detail)
	}
	return res, nil
}

// identityGate admits only the configured fail-safe principal.
func (p *Protocol) identityGate() error {
	name, err := p.identity()
	if err != nil {
		return fmt.Errorf("failsafe: cannot determine caller identity: %w", err)
	}
	if !identityMatches(name, p.cfg.FailsafeIdentity) {
		return fmt.Errorf("%w: running as %q, want %q", ErrWrongIdentity, name, p.cfg.FailsafeIdentity)
	}
	return nil
}

// timerGate admits the run once the lock window has elapsed, or early
// when an active release token exists. The token is consumed before it
// authorizes anything.
func (p *Protocol) timerGate(runID string) (*release.Token, time.Time, error) {
	start, dur, ok, err := p.store.LockWindow()
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		// Records without a window: nothing gates the revert.
		return nil, time.Time{}, nil
	}

	unlockAt := start.Add(dur)
	if !time.Now().UTC().Before(unlockAt) {
		return nil, unlockAt, nil
	}

	if token := release.Authorize(p.releases); token != nil {
		p.recordEarlyRelease(runID, token)
		return token, unlockAt, nil
	}

	return nil, unlockAt, fmt.Errorf("%w: unlocks at %s", ErrTimerNotElapsed, unlockAt.Format(time.RFC3339))
}

func (p *Protocol) record(runID, outcome, detail string) {
	if p.log == nil {
		return
	}
	err := p.log.Record(audit.AuditEntry{
		RunID:   runID,
		Action:  audit.ActionFailsafe,
		Outcome: outcome,
		Detail:  detail,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failsafe: audit: %v\n", err)
	}
}

func (p *Protocol) recordEarlyRelease(runID string, token *release.Token) {
	if p.log == nil {
		return
	}
	err := p.log.Record(audit.AuditEntry{
		RunID:   runID,
		Action:  audit.ActionEarlyRel,
		User:    token.RequestedBy,
		Outcome: "success",
		Detail:  fmt.Sprintf("%s: %s", token.ID, token.Reason),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failsafe: audit: %v\n", err)
	}
}

func (p *Protocol) dispatch(runID string, report *model.Report) {
	if p.alerts == nil {
		return
	}
	p.alerts.Dispatch(alert.AlertEvent{
		Timestamp: time.Now().UTC().Format(audit.TimestampFormat),
		RunID:     runID,
		Type:      "failsafe_run",
		Outcome:   string(report.Outcome()),
	})
}

// currentIdentity returns the OS account name of this process.
func currentIdentity() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// identityMatches compares account names case-insensitively and
// ignores a DOMAIN\ or HOST\ prefix on either side.
func identityMatches(got, want string) bool {
	strip := func(s string) string {
		if i := strings.LastIndexByte(s, '\\'); i >= 0 {
			return s[i+1:]
		}
		return s
	}
	return strings.EqualFold(strip(got), strip(want))
}

func newRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run-%x", time.Now().UnixNano())
	}
	return "run-" + hex.EncodeToString(b)
}
