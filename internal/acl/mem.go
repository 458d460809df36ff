package acl

import "sync"

// DenyEntry is one recorded denial on an in-memory object.
type DenyEntry struct {
	Identity string
	Rights   string
}

// MemController is an in-memory Controller used by tests. It
// de-duplicates identical deny entries, which is the behavior the
// engine relies on when re-enabling an already-locked resource.
type MemController struct {
	mu       sync.Mutex
	denies   map[string][]DenyEntry
	policies map[string]string

	// Missing objects produce NotFoundError; Denied objects produce
	// PrivilegeError. Keyed by ObjectRef.String().
	Missing map[string]bool
	Denied  map[string]bool
}

// NewMemController creates an empty in-memory controller.
func NewMemController() *MemController {
	return &MemController{
		denies:   make(map[string][]DenyEntry),
		policies: make(map[string]string),
		Missing:  make(map[string]bool),
		Denied:   make(map[string]bool),
	}
}

func (m *MemController) gate(op string, ref ObjectRef) error {
	if m.Missing[ref.String()] {
		return &NotFoundError{Ref: ref}
	}
	if m.Denied[ref.String()] {
		return &PrivilegeError{Op: op, Ref: ref, Err: errAccessDenied}
	}
	return nil
}

// AddDeny records a deny entry, de-duplicating identical ones.
func (m *MemController) AddDeny(ref ObjectRef, identity string, rights []Right) error {
	if err := m.gate("add deny", ref); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := DenyEntry{Identity: identity, Rights: JoinRights(rights)}
	for _, e := range m.denies[ref.String()] {
		if e == entry {
			return nil
		}
	}
	m.denies[ref.String()] = append(m.denies[ref.String()], entry)
	return nil
}

// RemoveDeny drops deny entries for identity, or all entries when
// identity is empty. Absent entries are a no-op.
func (m *MemController) RemoveDeny(ref ObjectRef, identity string) error {
	if err := m.gate("remove deny", ref); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if identity == "" {
		delete(m.denies, ref.String())
		return nil
	}

	var kept []DenyEntry
	for _, e := range m.denies[ref.String()] {
		if e.Identity != identity {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(m.denies, ref.String())
	} else {
		m.denies[ref.String()] = kept
	}
	return nil
}

// SetPolicyValue stores a policy value.
func (m *MemController) SetPolicyValue(ref ObjectRef, name, value string) error {
	if err := m.gate("set policy value", ref); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[ref.String()+"\x00"+name] = value
	return nil
}

// DenyEntries returns the recorded denials on an object.
func (m *MemController) DenyEntries(ref ObjectRef) []DenyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DenyEntry, len(m.denies[ref.String()]))
	copy(out, m.denies[ref.String()])
	return out
}

// PolicyValue returns a stored policy value and whether it is set.
func (m *MemController) PolicyValue(ref ObjectRef, name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.policies[ref.String()+"\x00"+name]
	return v, ok
}

// TotalDenies counts deny entries across all objects.
func (m *MemController) TotalDenies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, entries := range m.denies {
		n += len(entries)
	}
	return n
}
