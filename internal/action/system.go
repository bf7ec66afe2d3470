package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/policy"
)

// SystemOptions configure the system category handlers.
type SystemOptions struct {
	Gate      *policy.Gate
	WorkDir   string
	OutputCap int
}

type systemActions struct {
	gate      *policy.Gate
	workDir   string
	outputCap int
}

// packageManagers maps manager names onto install argv builders. Arguments
// are passed as argv, never through a shell.
var packageManagers = map[string]func(pkg string) (string, []string){
	"pip":  func(pkg string) (string, []string) { return "pip", []string{"install", "--user", pkg} },
	"pip3": func(pkg string) (string, []string) { return "pip3", []string{"install", "--user", pkg} },
	"npm":  func(pkg string) (string, []string) { return "npm", []string{"install", pkg} },
	"go":   func(pkg string) (string, []string) { return "go", []string{"install", pkg} },
}

// RegisterSystemActions wires install_package, run_tests, git_status and
// git_commit.
func RegisterSystemActions(e *Executor, opts SystemOptions) {
	sa := &systemActions{
		gate:      opts.Gate,
		workDir:   opts.WorkDir,
		outputCap: opts.OutputCap,
	}
	if sa.workDir == "" {
		sa.workDir = e.ProjectRoot()
	}
	e.Register("install_package", sa.installPackage)
	e.Register("run_tests", sa.runTests)
	e.Register("git_status", sa.gitStatus)
	e.Register("git_commit", sa.gitCommit)
}

func (sa *systemActions) installPackage(ctx context.Context, p Params) (Output, error) {
	pkg := p.String("package")
	if strings.TrimSpace(pkg) == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "install_package: package must be non-empty")
	}
	manager := strings.ToLower(p.String("manager"))
	if manager == "" {
		manager = "pip"
	}
	build, ok := packageManagers[manager]
	if !ok {
		return Output{}, nexuserr.Newf(nexuserr.KindValidation, "install_package: unsupported manager %q", manager)
	}
	bin, args := build(pkg)
	// The rendered command still goes through the shell gate so package
	// names carrying metacharacters get refused.
	rendered := bin + " " + strings.Join(args, " ")
	if d := sa.gate.CheckShell(rendered); !d.Allowed {
		return Output{}, nexuserr.New(nexuserr.KindPolicyDenied, d.Reason)
	}
	proc, err := runProcess(ctx, sa.workDir, sa.outputCap, bin, args...)
	if err != nil {
		return Output{}, err
	}
	out := Output{
		Text: combineOutput(proc.stdout, proc.stderr),
		Data: map[string]any{"package": pkg, "manager": manager, "exit_code": proc.exitCode},
	}
	if proc.exitCode != 0 {
		return out, nexuserr.Newf(nexuserr.KindInternal, "%s install exited with status %d", manager, proc.exitCode)
	}
	out.Objective = objective(true)
	return out, nil
}

func (sa *systemActions) runTests(ctx context.Context, p Params) (Output, error) {
	runner := strings.ToLower(p.String("runner"))
	var bin string
	var args []string
	switch runner {
	case "", "go":
		bin, args = "go", []string{"test", "-count=1", "./..."}
	case "pytest":
		bin, args = "pytest", []string{"-q"}
	case "npm":
		bin, args = "npm", []string{"test"}
	default:
		return Output{}, nexuserr.Newf(nexuserr.KindValidation, "run_tests: unsupported runner %q", runner)
	}
	if target := p.String("target"); target != "" {
		if d := sa.gate.CheckShell(target); !d.Allowed {
			return Output{}, nexuserr.New(nexuserr.KindPolicyDenied, d.Reason)
		}
		if runner == "" || runner == "go" {
			args = []string{"test", "-count=1", target}
		} else {
			args = append(args, target)
		}
	}
	proc, err := runProcess(ctx, sa.workDir, sa.outputCap, bin, args...)
	if err != nil {
		return Output{}, err
	}
	out := Output{
		Text:      combineOutput(proc.stdout, proc.stderr),
		Data:      map[string]any{"runner": bin, "exit_code": proc.exitCode},
		Objective: objective(proc.exitCode == 0),
	}
	if proc.exitCode != 0 {
		return out, nexuserr.Newf(nexuserr.KindInternal, "tests exited with status %d", proc.exitCode)
	}
	return out, nil
}

func (sa *systemActions) gitStatus(ctx context.Context, p Params) (Output, error) {
	proc, err := runProcess(ctx, sa.workDir, sa.outputCap, "git", "status", "--porcelain", "--branch")
	if err != nil {
		return Output{}, err
	}
	if proc.exitCode != 0 {
		return Output{Text: combineOutput(proc.stdout, proc.stderr)},
			nexuserr.Newf(nexuserr.KindInternal, "git status exited with status %d", proc.exitCode)
	}
	lines := strings.Split(strings.TrimRight(proc.stdout, "\n"), "\n")
	dirty := 0
	branch := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			branch = strings.TrimPrefix(line, "## ")
			continue
		}
		if strings.TrimSpace(line) != "" {
			dirty++
		}
	}
	return Output{
		Text: proc.stdout,
		Data: map[string]any{
			"branch":      branch,
			"dirty_files": dirty,
			"clean":       dirty == 0,
		},
		Objective: objective(true),
	}, nil
}

func (sa *systemActions) gitCommit(ctx context.Context, p Params) (Output, error) {
	message := strings.TrimSpace(p.String("message"))
	if message == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "git_commit: message must be non-empty")
	}
	if d := sa.gate.CheckShell(message); !d.Allowed {
		return Output{}, nexuserr.New(nexuserr.KindPolicyDenied, d.Reason)
	}

	if p.Bool("add_all", false) {
		add, err := runProcess(ctx, sa.workDir, sa.outputCap, "git", "add", "-A")
		if err != nil {
			return Output{}, err
		}
		if add.exitCode != 0 {
			return Output{Text: combineOutput(add.stdout, add.stderr)},
				nexuserr.Newf(nexuserr.KindInternal, "git add exited with status %d", add.exitCode)
		}
	}

	proc, err := runProcess(ctx, sa.workDir, sa.outputCap, "git", "commit", "-m", message)
	if err != nil {
		return Output{}, err
	}
	out := Output{
		Text: combineOutput(proc.stdout, proc.stderr),
		Data: map[string]any{"exit_code": proc.exitCode},
	}
	if proc.exitCode != 0 {
		// "nothing to commit" also lands here; the caller reads the output.
		return out, nexuserr.Newf(nexuserr.KindInternal, "git commit exited with status %d", proc.exitCode)
	}
	rev, revErr := runProcess(ctx, sa.workDir, sa.outputCap, "git", "rev-parse", "--short", "HEAD")
	if revErr == nil && rev.exitCode == 0 {
		out.Data["commit"] = strings.TrimSpace(rev.stdout)
	}
	out.Text = fmt.Sprintf("committed: %s", message)
	out.Objective = objective(true)
	return out, nil
}
