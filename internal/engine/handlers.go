package engine

import (
	"fmt"

	"github.com/ppiankov/lockward/internal/acl"
	"github.com/ppiankov/lockward/internal/audit"
	"github.com/ppiankov/lockward/internal/model"
)

// handler binds one target to its lock and unlock primitives.
type handler struct {
	key    string
	action string
	global bool
	lock   func(ctrl acl.Controller, user string) error
	unlock func(ctrl acl.Controller, user string) error
}

func (h handler) auditAction() string {
	if h.action == "" {
		return audit.ActionApply
	}
	return h.action
}

// handlerFor resolves a target against the configured resource set.
func (e *Engine) handlerFor(target model.Target) (handler, error) {
	switch target.Category {
	case model.NetworkAdapter:
		ref := acl.ObjectRef{Kind: acl.ObjectRegistryKey, Path: e.cfg.AdapterKey(target.Key)}
		return handler{
			key:    target.Key,
			action: audit.ActionApply,
			lock: func(ctrl acl.Controller, user string) error {
				return ctrl.AddDeny(ref, user, acl.AdapterKeyRights)
			},
			unlock: func(ctrl acl.Controller, user string) error {
				return ctrl.RemoveDeny(ref, user)
			},
		}, nil

	case model.ProtectedFile:
		spec, ok := e.cfg.ProtectedFile(target.Key)
		if !ok {
			return handler{}, fmt.Errorf("engine: unknown protected file %q", target.Key)
		}
		ref := acl.ObjectRef{Kind: acl.ObjectFile, Path: spec.Path}
		return handler{
			key:    target.Key,
			action: audit.ActionApply,
			lock: func(ctrl acl.Controller, user string) error {
				return ctrl.AddDeny(ref, user, acl.ProtectedFileRights)
			},
			unlock: func(ctrl acl.Controller, user string) error {
				return ctrl.RemoveDeny(ref, user)
			},
		}, nil

	case model.SystemPolicy:
		spec, ok := e.cfg.Policy(target.Key)
		if !ok {
			return handler{}, fmt.Errorf("engine: unknown policy %q", target.Key)
		}
		ref := acl.ObjectRef{Kind: acl.ObjectRegistryKey, Path: spec.KeyPath}
		return handler{
			key:    target.Key,
			action: audit.ActionPolicySet,
			global: spec.Global,
			lock: func(ctrl acl.Controller, _ string) error {
				return ctrl.SetPolicyValue(ref, spec.ValueName, spec.Restricted)
			},
			unlock: func(ctrl acl.Controller, _ string) error {
				return ctrl.SetPolicyValue(ref, spec.ValueName, spec.Default)
			},
		}, nil

	default:
		return handler{}, fmt.Errorf("engine: unknown category %q", target.Category)
	}
}
