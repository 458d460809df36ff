package acl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var errAccessDenied = errors.New("access denied")

// commandTimeout bounds each external permission-tool invocation.
const commandTimeout = 30 * time.Second

// CommandSet holds the argv templates the exec controller renders for
// each primitive. Placeholders: {path}, {identity}, {rights}, {name},
// {value}. The defaults live in the config package; these are the one
// place lockward touches the real OS permission tools.
type CommandSet struct {
	AddDenyFile       []string `yaml:"add_deny_file"`
	AddDenyKey        []string `yaml:"add_deny_key"`
	RemoveDenyFile    []string `yaml:"remove_deny_file"`
	RemoveDenyKey     []string `yaml:"remove_deny_key"`
	RemoveAllDenyFile []string `yaml:"remove_all_deny_file"`
	RemoveAllDenyKey  []string `yaml:"remove_all_deny_key"`
	SetPolicyValue    []string `yaml:"set_policy_value"`
}

// ExecController shells out to configured permission tools.
type ExecController struct {
	commands CommandSet

	// runCommand is swappable for tests.
	runCommand func(argv []string) ([]byte, error)
}

// NewExecController creates a Controller backed by the given command
// templates.
func NewExecController(commands CommandSet) *ExecController {
	return &ExecController{
		commands:   commands,
		runCommand: runArgv,
	}
}

// AddDeny renders and runs the add-deny template for the object kind.
func (c *ExecController) AddDeny(ref ObjectRef, identity string, rights []Right) error {
	tmpl := c.commands.AddDenyFile
	if ref.Kind == ObjectRegistryKey {
		tmpl = c.commands.AddDenyKey
	}
	return c.run("add deny", ref, tmpl, map[string]string{
		"{path}":     ref.Path,
		"{identity}": identity,
		"{rights}":   JoinRights(rights),
	})
}

// RemoveDeny renders and runs the remove-deny template. An empty
// identity selects the remove-all variant.
func (c *ExecController) RemoveDeny(ref ObjectRef, identity string) error {
	var tmpl []string
	switch {
	case identity == "" && ref.Kind == ObjectRegistryKey:
		tmpl = c.commands.RemoveAllDenyKey
	case identity == "":
		tmpl = c.commands.RemoveAllDenyFile
	case ref.Kind == ObjectRegistryKey:
		tmpl = c.commands.RemoveDenyKey
	default:
		tmpl = c.commands.RemoveDenyFile
	}
	return c.run("remove deny", ref, tmpl, map[string]string{
		"{path}":     ref.Path,
		"{identity}": identity,
	})
}

// SetPolicyValue renders and runs the set-policy template.
func (c *ExecController) SetPolicyValue(ref ObjectRef, name, value string) error {
	return c.run("set policy value", ref, c.commands.SetPolicyValue, map[string]string{
		"{path}":  ref.Path,
		"{name}":  name,
		"{value}": value,
	})
}

func (c *ExecController) run(op string, ref ObjectRef, tmpl []string, vars map[string]string) error {
	if len(tmpl) == 0 {
		return fmt.Errorf("acl: no command configured for %s on %s", op, ref.Kind)
	}

	argv := make([]string, len(tmpl))
	for i, part := range tmpl {
		for k, v := range vars {
			part = strings.ReplaceAll(part, k, v)
		}
		argv[i] = part
	}

	out, err := c.runCommand(argv)
	if err == nil {
		return nil
	}
	return classify(op, ref, out, err)
}

// classify maps a failed tool invocation to the error kinds the
// engine distinguishes.
func classify(op string, ref ObjectRef, out []byte, err error) error {
	text := strings.ToLower(string(out))
	switch {
	case strings.Contains(text, "access is denied") || strings.Contains(text, "permission denied"):
		return &PrivilegeError{Op: op, Ref: ref, Err: errAccessDenied}
	case strings.Contains(text, "not found") || strings.Contains(text, "cannot find") ||
		strings.Contains(text, "no such file"):
		return &NotFoundError{Ref: ref}
	default:
		return fmt.Errorf("acl: %s on %s: %v: %s", op, ref, err, firstLine(text))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func runArgv(argv []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}
