// Package acl is the boundary to the OS permission APIs. It applies
// and removes named-identity deny entries on file and registry
// objects, and sets plain policy values. Everything above this
// package treats the operations abstractly; the exec-backed
// controller is the one external binding.
package acl

import (
	"fmt"
	"strings"
)

// ObjectKind distinguishes the two permission object shapes.
type ObjectKind string

const (
	ObjectFile        ObjectKind = "file"
	ObjectRegistryKey ObjectKind = "registry_key"
)

// ObjectRef names one permission object.
type ObjectRef struct {
	Kind ObjectKind
	Path string
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Path)
}

// Right is one operation a deny entry forbids.
type Right string

const (
	RightWrite             Right = "Write"
	RightDelete            Right = "Delete"
	RightChangePermissions Right = "ChangePermissions"
	RightSetValue          Right = "SetValue"
	RightCreateSubKey      Right = "CreateSubKey"
)

// AdapterKeyRights are denied on an adapter's registry parameter key.
var AdapterKeyRights = []Right{RightSetValue, RightCreateSubKey, RightDelete, RightChangePermissions}

// ProtectedFileRights are denied on a protected file.
var ProtectedFileRights = []Right{RightWrite, RightDelete, RightChangePermissions}

// JoinRights renders a rights set for command templates and logs.
func JoinRights(rights []Right) string {
	parts := make([]string, len(rights))
	for i, r := range rights {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// Controller applies and removes deny entries. A deny entry
// explicitly forbids an identity a set of operations, independent of
// and overriding any allow entries for that identity.
type Controller interface {
	// AddDeny denies the given rights to identity on the object.
	// Re-applying an identical entry must not stack a duplicate.
	AddDeny(ref ObjectRef, identity string, rights []Right) error

	// RemoveDeny removes deny entries for identity on the object.
	// An empty identity removes every deny entry regardless of owner.
	// Removing entries that do not exist is a no-op.
	RemoveDeny(ref ObjectRef, identity string) error

	// SetPolicyValue writes a named policy value on the object.
	SetPolicyValue(ref ObjectRef, name, value string) error
}

// PrivilegeError means the caller lacks rights to mutate the
// permission object. Fatal for that item; processing continues for
// the rest.
type PrivilegeError struct {
	Op  string
	Ref ObjectRef
	Err error
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("insufficient privilege: %s on %s: %v", e.Op, e.Ref, e.Err)
}

func (e *PrivilegeError) Unwrap() error { return e.Err }

// NotFoundError means the target object no longer exists. Callers
// skip the item with a warning and leave state untouched.
type NotFoundError struct {
	Ref ObjectRef
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object not found: %s", e.Ref)
}
