package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/lockward/internal/acl"
	"github.com/ppiankov/lockward/internal/config"
	"github.com/ppiankov/lockward/internal/model"
	"github.com/ppiankov/lockward/internal/state"
)

func newTestEngine(t *testing.T) (*Engine, *state.Store, *acl.MemController, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.StateDB = filepath.Join(dir, "state.db")
	cfg.LockFile = filepath.Join(dir, "engine.lock")
	cfg.AuditLog = filepath.Join(dir, "audit.jsonl")

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctrl := acl.NewMemController()
	return New(store, ctrl, cfg, nil, nil), store, ctrl, cfg
}

func adapterRef(cfg *config.Config, id string) acl.ObjectRef {
	return acl.ObjectRef{Kind: acl.ObjectRegistryKey, Path: cfg.AdapterKey(id)}
}

func hostsRef(cfg *config.Config) acl.ObjectRef {
	spec, _ := cfg.ProtectedFile("hosts")
	return acl.ObjectRef{Kind: acl.ObjectFile, Path: spec.Path}
}

func TestEnableRecordsAfterDenySucceeds(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)

	report, err := eng.Enable("alice", []model.Target{
		{Category: model.NetworkAdapter, Key: "{GUID-1}"},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeSuccess {
		t.Fatalf("expected success, got %s", report.Outcome())
	}

	ok, err := store.ExistsFor(model.NetworkAdapter, "{GUID-1}", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected record NetworkAdapter/{GUID-1}/alice")
	}

	entries := ctrl.DenyEntries(adapterRef(cfg, "{GUID-1}"))
	if len(entries) != 1 || entries[0].Identity != "alice" {
		t.Errorf("expected one deny entry for alice, got %+v", entries)
	}
}

func TestEnableTwiceIsIdempotent(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)
	targets := []model.Target{{Category: model.NetworkAdapter, Key: "{GUID-1}"}}

	if _, err := eng.Enable("alice", targets, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Enable("alice", targets, 0); err != nil {
		t.Fatal(err)
	}

	recs, _ := store.GetAll()
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record after double enable, got %d", len(recs))
	}
	if n := len(ctrl.DenyEntries(adapterRef(cfg, "{GUID-1}"))); n != 1 {
		t.Errorf("expected one deny entry after double enable, got %d", n)
	}
}

func TestEnableRequiresUser(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	if _, err := eng.Enable("", nil, 0); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func TestEnableArmsWindowBeforeReleasingLock(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)

	// Enable and the window arming happen in one critical section:
	// the moment Enable returns, the window is already recorded, so a
	// fail-safe sweep can never see records without a window.
	report, err := eng.Enable("alice", []model.Target{
		{Category: model.ProtectedFile, Key: "hosts"},
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeSuccess {
		t.Fatalf("expected success, got %s", report.Outcome())
	}

	start, dur, ok, err := store.LockWindow()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected window armed by Enable itself")
	}
	if dur != time.Hour {
		t.Errorf("window duration = %v, want 1h", dur)
	}
	if time.Since(start) > time.Minute {
		t.Errorf("window start %v is not recent", start)
	}
}

func TestEnableSkipsWindowWhenNothingApplied(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)

	// Every target fails: there is nothing for a window to guard.
	report, err := eng.Enable("alice", []model.Target{
		{Category: model.ProtectedFile, Key: "no-such-file"},
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", report.Outcome())
	}
	if _, _, ok, _ := store.LockWindow(); ok {
		t.Error("window must not be armed when no restriction was applied")
	}
}

func TestEnableContinuesPastFailingTarget(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)
	ctrl.Denied[adapterRef(cfg, "{GUID-1}").String()] = true

	report, err := eng.Enable("alice", []model.Target{
		{Category: model.NetworkAdapter, Key: "{GUID-1}"},
		{Category: model.ProtectedFile, Key: "hosts"},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomePartial {
		t.Fatalf("expected partial, got %s", report.Outcome())
	}

	// No record for the failed target.
	if ok, _ := store.Exists(model.NetworkAdapter, "{GUID-1}"); ok {
		t.Error("failed deny must not produce a record")
	}
	// The other target still locked.
	if ok, _ := store.ExistsFor(model.ProtectedFile, "hosts", "alice"); !ok {
		t.Error("expected hosts to be locked despite adapter failure")
	}
}

func TestEnableRollsBackDenyOnStateFailure(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)

	// A closed store makes every Set fail.
	store.Close()

	_, err := eng.Enable("alice", []model.Target{
		{Category: model.ProtectedFile, Key: "hosts"},
	}, 0)
	if !errors.Is(err, state.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}

	// The deny that could not be recorded was rolled back: no orphan.
	if n := len(ctrl.DenyEntries(hostsRef(cfg))); n != 0 {
		t.Errorf("expected rollback of untracked deny, found %d entries", n)
	}
}

func TestEnableRollsBackGlobalPolicyOnStateFailure(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)

	// A closed store makes the toggle write fail after the policy
	// primitive succeeded.
	store.Close()

	report, err := eng.Enable("alice", []model.Target{
		{Category: model.SystemPolicy, Key: "uac"},
	}, 0)
	if !errors.Is(err, state.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if report == nil || len(report.Failed()) != 1 {
		t.Fatalf("expected the uac item reported failed, got %+v", report)
	}

	// The restricted value was rolled back to the default: a policy
	// with no recorded toggle would never be relaxed again.
	spec, _ := cfg.Policy("uac")
	ref := acl.ObjectRef{Kind: acl.ObjectRegistryKey, Path: spec.KeyPath}
	if v, ok := ctrl.PolicyValue(ref, spec.ValueName); !ok || v != spec.Default {
		t.Errorf("policy value = %q, want rolled-back default %q", v, spec.Default)
	}
}

func TestDisableScopedToUser(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)
	targets := []model.Target{{Category: model.NetworkAdapter, Key: "{GUID-1}"}}

	eng.Enable("alice", targets, 0)
	eng.Enable("bob", targets, 0)

	report, err := eng.Disable("alice")
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeSuccess {
		t.Fatalf("expected success, got %s", report.Outcome())
	}

	recs, _ := store.GetAll()
	if len(recs) != 1 || recs[0].User != "bob" {
		t.Fatalf("expected only bob's record, got %+v", recs)
	}

	entries := ctrl.DenyEntries(adapterRef(cfg, "{GUID-1}"))
	if len(entries) != 1 || entries[0].Identity != "bob" {
		t.Errorf("bob's deny entry must survive alice's disable, got %+v", entries)
	}
}

func TestScopedDisableClearsWindowOnlyWhenStoreEmpties(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	targets := []model.Target{{Category: model.ProtectedFile, Key: "hosts"}}

	eng.Enable("alice", targets, time.Hour)
	eng.Enable("bob", []model.Target{{Category: model.NetworkAdapter, Key: "{GUID-1}"}}, 0)

	// Bob's record remains: the window still guards something.
	if _, err := eng.Disable("alice"); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, _ := store.LockWindow(); !ok {
		t.Fatal("window must survive while records remain")
	}

	// The last record goes: the window goes with it.
	if _, err := eng.Disable("bob"); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, _ := store.LockWindow(); ok {
		t.Error("window must be cleared once the store empties")
	}
}

func TestFullRevertRoundTrip(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)

	eng.Enable("alice", []model.Target{
		{Category: model.NetworkAdapter, Key: "{GUID-1}"},
		{Category: model.ProtectedFile, Key: "hosts"},
		{Category: model.SystemPolicy, Key: "regedit"},
	}, 2*time.Hour)
	eng.Enable("bob", []model.Target{
		{Category: model.NetworkAdapter, Key: "{GUID-2}"},
	}, 0)

	report, err := eng.Disable("")
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeSuccess {
		t.Fatalf("expected success, got %s", report.Outcome())
	}

	recs, _ := store.GetAll()
	if len(recs) != 0 {
		t.Errorf("expected empty store, got %+v", recs)
	}
	if ctrl.TotalDenies() != 0 {
		t.Errorf("expected zero residual deny entries, got %d", ctrl.TotalDenies())
	}

	// Policy back to its default value.
	spec, _ := cfg.Policy("regedit")
	ref := acl.ObjectRef{Kind: acl.ObjectRegistryKey, Path: spec.KeyPath}
	if v, _ := ctrl.PolicyValue(ref, spec.ValueName); v != spec.Default {
		t.Errorf("policy value = %q, want default %q", v, spec.Default)
	}

	// Lock window cleared with the last record.
	if _, _, ok, _ := store.LockWindow(); ok {
		t.Error("expected lock window cleared after full disable")
	}
}

func TestDisableUsesRecordedUserNotCaller(t *testing.T) {
	eng, _, ctrl, cfg := newTestEngine(t)

	eng.Enable("alice", []model.Target{{Category: model.ProtectedFile, Key: "hosts"}}, 0)

	// Full disable runs without any caller identity; the revert must
	// target alice, the user stored on the record.
	if _, err := eng.Disable(""); err != nil {
		t.Fatal(err)
	}
	if n := len(ctrl.DenyEntries(hostsRef(cfg))); n != 0 {
		t.Errorf("expected alice's deny removed, got %d entries", n)
	}
}

func TestDisableRetainsRecordWhenRevertFails(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)

	eng.Enable("alice", []model.Target{{Category: model.ProtectedFile, Key: "hosts"}}, 0)

	// Subsequent reverts hit a privilege wall.
	ctrl.Denied[hostsRef(cfg).String()] = true

	report, err := eng.Disable("alice")
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", report.Outcome())
	}

	// Record retained: a future recovery pass must retry this revert.
	if ok, _ := store.ExistsFor(model.ProtectedFile, "hosts", "alice"); !ok {
		t.Error("record must be retained after a failed revert")
	}

	// Wall removed: the retry succeeds and the record goes away.
	delete(ctrl.Denied, hostsRef(cfg).String())
	if _, err := eng.Disable("alice"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.ExistsFor(model.ProtectedFile, "hosts", "alice"); ok {
		t.Error("record should be removed once the retry succeeds")
	}
}

func TestDisableDropsRecordForVanishedObject(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)

	eng.Enable("alice", []model.Target{{Category: model.ProtectedFile, Key: "hosts"}}, 0)
	ctrl.Missing[hostsRef(cfg).String()] = true

	report, err := eng.Disable("alice")
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeSuccess {
		t.Fatalf("vanished object should not fail the disable, got %s", report.Outcome())
	}
	if ok, _ := store.Exists(model.ProtectedFile, "hosts"); ok {
		t.Error("record for a vanished object should be dropped")
	}
}

func TestUACIsGlobalNotPerUser(t *testing.T) {
	eng, store, ctrl, cfg := newTestEngine(t)

	report, err := eng.Enable("alice", []model.Target{{Category: model.SystemPolicy, Key: "uac"}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeSuccess {
		t.Fatalf("expected success, got %s", report.Outcome())
	}

	// No per-user record; the toggle lives in the config branch.
	recs, _ := store.GetAll()
	if len(recs) != 0 {
		t.Errorf("global policy must not create per-user records, got %+v", recs)
	}
	if on, _ := store.UACEnforced(); !on {
		t.Error("expected UAC toggle recorded")
	}

	spec, _ := cfg.Policy("uac")
	ref := acl.ObjectRef{Kind: acl.ObjectRegistryKey, Path: spec.KeyPath}
	if v, _ := ctrl.PolicyValue(ref, spec.ValueName); v != spec.Restricted {
		t.Errorf("policy value = %q, want restricted %q", v, spec.Restricted)
	}

	// Enforcing twice is harmless.
	if _, err := eng.Enable("bob", []model.Target{{Category: model.SystemPolicy, Key: "uac"}}, 0); err != nil {
		t.Fatal(err)
	}

	// Scoped disable leaves the machine-global toggle alone.
	eng.Enable("alice", []model.Target{{Category: model.ProtectedFile, Key: "hosts"}}, 0)
	eng.Disable("alice")
	if on, _ := store.UACEnforced(); !on {
		t.Error("scoped disable must not relax UAC")
	}

	// Full disable relaxes it exactly once.
	if _, err := eng.Disable(""); err != nil {
		t.Fatal(err)
	}
	if on, _ := store.UACEnforced(); on {
		t.Error("expected UAC relaxed after full disable")
	}
	if v, _ := ctrl.PolicyValue(ref, spec.ValueName); v != spec.Default {
		t.Errorf("policy value = %q, want default %q", v, spec.Default)
	}
}

func TestEnableUnknownResource(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)

	report, err := eng.Enable("alice", []model.Target{
		{Category: model.ProtectedFile, Key: "no-such-file"},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != model.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", report.Outcome())
	}
	recs, _ := store.GetAll()
	if len(recs) != 0 {
		t.Errorf("unknown resource must not be recorded, got %+v", recs)
	}
}

func TestStatusReportsWindowAndRecords(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	eng.Enable("alice", []model.Target{{Category: model.ProtectedFile, Key: "hosts"}}, time.Hour)

	st, err := eng.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(st.Records))
	}
	if !st.WindowSet {
		t.Error("expected lock window set")
	}
	if remaining := time.Until(st.UnlockAt); remaining < 55*time.Minute || remaining > time.Hour {
		t.Errorf("unexpected unlock time %v", st.UnlockAt)
	}
}

func TestArmLockWindowRejectsNonPositive(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	if err := eng.ArmLockWindow(0); err == nil {
		t.Fatal("expected error for zero duration")
	}
}
