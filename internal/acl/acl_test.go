package acl

import (
	"errors"
	"fmt"
	"testing"
)

func TestMemAddDenyDeduplicates(t *testing.T) {
	m := NewMemController()
	ref := ObjectRef{Kind: ObjectFile, Path: "/etc/hosts"}

	if err := m.AddDeny(ref, "alice", ProtectedFileRights); err != nil {
		t.Fatal(err)
	}
	if err := m.AddDeny(ref, "alice", ProtectedFileRights); err != nil {
		t.Fatal(err)
	}

	entries := m.DenyEntries(ref)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after duplicate AddDeny, got %d", len(entries))
	}
}

func TestMemRemoveDenyScopedToIdentity(t *testing.T) {
	m := NewMemController()
	ref := ObjectRef{Kind: ObjectRegistryKey, Path: `SYSTEM\CCS\{GUID-1}`}

	m.AddDeny(ref, "alice", AdapterKeyRights)
	m.AddDeny(ref, "bob", AdapterKeyRights)

	if err := m.RemoveDeny(ref, "alice"); err != nil {
		t.Fatal(err)
	}

	entries := m.DenyEntries(ref)
	if len(entries) != 1 || entries[0].Identity != "bob" {
		t.Errorf("expected only bob's entry, got %+v", entries)
	}
}

func TestMemRemoveDenyAllIdentities(t *testing.T) {
	m := NewMemController()
	ref := ObjectRef{Kind: ObjectFile, Path: "/etc/hosts"}

	m.AddDeny(ref, "alice", ProtectedFileRights)
	m.AddDeny(ref, "bob", ProtectedFileRights)

	if err := m.RemoveDeny(ref, ""); err != nil {
		t.Fatal(err)
	}
	if len(m.DenyEntries(ref)) != 0 {
		t.Error("expected all deny entries removed")
	}
}

func TestMemRemoveDenyAbsentIsNoop(t *testing.T) {
	m := NewMemController()
	ref := ObjectRef{Kind: ObjectFile, Path: "/etc/hosts"}
	if err := m.RemoveDeny(ref, "alice"); err != nil {
		t.Fatalf("removing absent deny should not fail: %v", err)
	}
}

func TestMemMissingObjectReturnsNotFound(t *testing.T) {
	m := NewMemController()
	ref := ObjectRef{Kind: ObjectFile, Path: "/gone"}
	m.Missing[ref.String()] = true

	err := m.AddDeny(ref, "alice", ProtectedFileRights)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMemDeniedObjectReturnsPrivilegeError(t *testing.T) {
	m := NewMemController()
	ref := ObjectRef{Kind: ObjectRegistryKey, Path: `SYSTEM\Protected`}
	m.Denied[ref.String()] = true

	err := m.AddDeny(ref, "alice", AdapterKeyRights)
	var pe *PrivilegeError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PrivilegeError, got %v", err)
	}
}

func TestMemPolicyValue(t *testing.T) {
	m := NewMemController()
	ref := ObjectRef{Kind: ObjectRegistryKey, Path: `Software\Policies\System`}

	if err := m.SetPolicyValue(ref, "DisableRegistryTools", "1"); err != nil {
		t.Fatal(err)
	}
	v, ok := m.PolicyValue(ref, "DisableRegistryTools")
	if !ok || v != "1" {
		t.Errorf("expected value 1, got %q present=%v", v, ok)
	}
}

func TestExecControllerRendersTemplates(t *testing.T) {
	var got []string
	c := NewExecController(CommandSet{
		AddDenyFile: []string{"icacls", "{path}", "/deny", "{identity}:({rights})"},
	})
	c.runCommand = func(argv []string) ([]byte, error) {
		got = argv
		return nil, nil
	}

	ref := ObjectRef{Kind: ObjectFile, Path: `C:\Windows\System32\drivers\etc\hosts`}
	if err := c.AddDeny(ref, "alice", ProtectedFileRights); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"icacls",
		`C:\Windows\System32\drivers\etc\hosts`,
		"/deny",
		"alice:(Write,Delete,ChangePermissions)",
	}
	if len(got) != len(want) {
		t.Fatalf("argv mismatch: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExecControllerSelectsRemoveAllTemplate(t *testing.T) {
	var got []string
	c := NewExecController(CommandSet{
		RemoveDenyKey:    []string{"tool", "remove", "{path}", "{identity}"},
		RemoveAllDenyKey: []string{"tool", "remove-all", "{path}"},
	})
	c.runCommand = func(argv []string) ([]byte, error) {
		got = argv
		return nil, nil
	}

	ref := ObjectRef{Kind: ObjectRegistryKey, Path: `SYSTEM\CCS\{GUID-1}`}
	if err := c.RemoveDeny(ref, ""); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[1] != "remove-all" {
		t.Errorf("expected remove-all template, got %v", got)
	}
}

func TestExecControllerClassifiesAccessDenied(t *testing.T) {
	c := NewExecController(CommandSet{
		AddDenyFile: []string{"icacls", "{path}"},
	})
	c.runCommand = func(argv []string) ([]byte, error) {
		return []byte("hosts: Access is denied.\n"), fmt.Errorf("exit status 5")
	}

	err := c.AddDeny(ObjectRef{Kind: ObjectFile, Path: "hosts"}, "alice", ProtectedFileRights)
	var pe *PrivilegeError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PrivilegeError, got %v", err)
	}
}

func TestExecControllerClassifiesNotFound(t *testing.T) {
	c := NewExecController(CommandSet{
		AddDenyFile: []string{"icacls", "{path}"},
	})
	c.runCommand = func(argv []string) ([]byte, error) {
		return []byte("The system cannot find the file specified.\n"), fmt.Errorf("exit status 2")
	}

	err := c.AddDeny(ObjectRef{Kind: ObjectFile, Path: "gone"}, "alice", ProtectedFileRights)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestExecControllerRejectsMissingTemplate(t *testing.T) {
	c := NewExecController(CommandSet{})
	err := c.AddDeny(ObjectRef{Kind: ObjectFile, Path: "hosts"}, "alice", ProtectedFileRights)
	if err == nil {
		t.Fatal("expected error for missing command template")
	}
}
