// Package policy decides whether paths and shell commands may be touched by
// actions. The gate is pure: construction fixes the mode and roots, and every
// check is a function of its inputs.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Execution modes.
const (
	ModeFullAuto = "FULL_AUTO"
	ModeSafe     = "SAFE"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Gate evaluates path and shell checks for one configured instance.
type Gate struct {
	mode        string
	projectRoot string
	roots       []string
	sensitive   []string
}

// Options configure a Gate.
type Options struct {
	Mode           string
	ProjectRoot    string
	AllowedRoots   []string // relative roots are resolved under ProjectRoot
	SensitivePaths []string
}

// New builds a gate. Relative allowed roots are anchored at the project root.
func New(opts Options) *Gate {
	mode := strings.ToUpper(strings.TrimSpace(opts.Mode))
	if mode != ModeSafe {
		mode = ModeFullAuto
	}
	root := opts.ProjectRoot
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err == nil {
		root = abs
	}

	g := &Gate{mode: mode, projectRoot: root}
	for _, r := range opts.AllowedRoots {
		if r == "" {
			continue
		}
		if !filepath.IsAbs(r) {
			r = filepath.Join(root, r)
		}
		g.roots = append(g.roots, filepath.Clean(r))
	}
	if len(opts.SensitivePaths) == 0 {
		g.sensitive = defaultSensitive()
	} else {
		for _, s := range opts.SensitivePaths {
			g.sensitive = append(g.sensitive, filepath.Clean(s))
		}
	}
	return g
}

func defaultSensitive() []string {
	return []string{"/etc", "/System", "/private/etc", "/boot", "/proc", "/sys"}
}

// Mode reports the configured execution mode.
func (g *Gate) Mode() string { return g.mode }

// mutatingActions are the action types that change the filesystem.
var mutatingActions = map[string]bool{
	"write_file":       true,
	"edit_file":        true,
	"delete_file":      true,
	"create_directory": true,
	"take_screenshot":  true,
}

// IsMutating reports whether actionType changes state at the given path.
func IsMutating(actionType string) bool { return mutatingActions[actionType] }

// CheckPath gates filesystem access for an action. The path must already be
// resolved to an absolute form by the executor.
func (g *Gate) CheckPath(path, actionType string) Decision {
	return g.CheckPathMode(path, actionType, g.mode)
}

// CheckPathMode is CheckPath with an explicit mode, used by tests and by
// callers that evaluate hypothetical modes.
func (g *Gate) CheckPathMode(path, actionType, mode string) Decision {
	clean := filepath.Clean(path)
	mutating := IsMutating(actionType)

	if mutating && g.isSensitive(clean) {
		return deny("sensitive path %s refused for %s", clean, actionType)
	}

	inRoots := g.underAllowedRoot(clean)
	switch mode {
	case ModeSafe:
		if !inRoots {
			return deny("path %s outside allowed roots (mode SAFE)", clean)
		}
	default: // FULL_AUTO
		if mutating && !inRoots {
			return deny("mutation of %s outside allowed roots", clean)
		}
	}
	return allow()
}

func (g *Gate) isSensitive(path string) bool {
	for _, s := range g.sensitive {
		if path == s || strings.HasPrefix(path, s+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (g *Gate) underAllowedRoot(path string) bool {
	for _, r := range g.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// dangerous substrings denied in any shell command.
var dangerousFragments = []string{
	"rm -rf /",
	"shutdown",
	"reboot",
	"mkfs",
	":(){:|:&};:",
}

// pipe-to-shell forms.
var pipeToShell = []string{"| bash", "| sh", "|bash", "|sh"}

// CheckShell gates a shell command string.
func (g *Gate) CheckShell(command string) Decision {
	return g.CheckShellMode(command, g.mode)
}

// CheckShellMode is CheckShell with an explicit mode. The denial rules are
// identical across modes; mode is accepted so call sites mirror CheckPath.
func (g *Gate) CheckShellMode(command, _ string) Decision {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return deny("empty command")
	}
	lower := strings.ToLower(trimmed)

	for _, frag := range dangerousFragments {
		if strings.Contains(lower, frag) {
			return deny("dangerous command fragment %q", frag)
		}
	}
	if strings.HasPrefix(lower, "sudo ") || strings.HasPrefix(lower, "su ") {
		return deny("privileged commands are refused")
	}
	for _, p := range pipeToShell {
		if strings.Contains(lower, p) {
			return deny("piping into a shell is refused")
		}
	}
	for _, r := range command {
		if r < 0x20 && r != '\t' && r != '\n' {
			return deny("control character in command")
		}
		if r == 0x7f {
			return deny("control character in command")
		}
	}
	if target := g.sensitiveWriteTarget(command); target != "" {
		return deny("command writes to sensitive path %s", target)
	}
	return allow()
}

// sensitiveWriteTarget looks for redirection or tee into a sensitive prefix.
func (g *Gate) sensitiveWriteTarget(command string) string {
	for _, s := range g.sensitive {
		for _, form := range []string{">" + s, "> " + s, ">>" + s, ">> " + s, "tee " + s, "tee -a " + s} {
			if strings.Contains(command, form) {
				return s
			}
		}
	}
	return ""
}

// ValidateQuoting rejects command strings whose quoting or metacharacters
// make them unsafe to hand to a shell from the autonomous loop: unterminated
// quotes, a trailing escape, the separators ; | & < > outside quotes, and
// command substitution ($(...) or backticks) outside single quotes.
func ValidateQuoting(command string) error {
	inSingle, inDouble, escaped := false, false, false

	for i := 0; i < len(command); i++ {
		c := command[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && !inSingle:
			escaped = true
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble:
			switch c {
			case ';', '|', '&', '<', '>':
				return fmt.Errorf("unquoted shell metacharacter %q", string(c))
			}
			if c == '$' && i+1 < len(command) && command[i+1] == '(' {
				return fmt.Errorf("command substitution is not allowed")
			}
			if c == '`' {
				return fmt.Errorf("backtick substitution is not allowed")
			}
		case inDouble:
			// Expansions still run inside double quotes.
			if c == '$' && i+1 < len(command) && command[i+1] == '(' {
				return fmt.Errorf("command substitution is not allowed")
			}
			if c == '`' {
				return fmt.Errorf("backtick substitution is not allowed")
			}
		}
	}

	if escaped {
		return fmt.Errorf("trailing backslash")
	}
	if inSingle || inDouble {
		return fmt.Errorf("unterminated quote")
	}
	return nil
}
