package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

// Result envelope markers for run_python. The trailer prints the script's
// `result` variable as JSON between these lines so callers get structured
// data back regardless of what else the script printed.
const (
	ResultBegin = "NEXUS_RESULT_BEGIN"
	ResultEnd   = "NEXUS_RESULT_END"
)

const defaultProcessOutputCap = 256 * 1024

// CodeOptions configure the code-execution handlers.
type CodeOptions struct {
	PythonBin string
	ShellBin  string
	NodeBin   string
	WorkDir   string
	OutputCap int
}

type codeActions struct {
	pythonBin string
	shellBin  string
	nodeBin   string
	workDir   string
	outputCap int
	goScripts *GoScriptRunner
}

// RegisterCodeActions wires run_python, run_shell and run_script.
func RegisterCodeActions(e *Executor, opts CodeOptions) {
	ca := &codeActions{
		pythonBin: opts.PythonBin,
		shellBin:  opts.ShellBin,
		nodeBin:   opts.NodeBin,
		workDir:   opts.WorkDir,
		outputCap: opts.OutputCap,
		goScripts: NewGoScriptRunner(),
	}
	if ca.pythonBin == "" {
		ca.pythonBin = "python3"
	}
	if ca.shellBin == "" {
		ca.shellBin = "sh"
	}
	if ca.nodeBin == "" {
		ca.nodeBin = "node"
	}
	if ca.workDir == "" {
		ca.workDir = e.ProjectRoot()
	}
	if ca.outputCap <= 0 {
		ca.outputCap = defaultProcessOutputCap
	}
	e.Register("run_python", ca.runPython)
	e.Register("run_shell", ca.runShell)
	e.Register("run_script", ca.runScript)
}

func (ca *codeActions) runPython(ctx context.Context, p Params) (Output, error) {
	code := p.String("code")
	if strings.TrimSpace(code) == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "run_python: code must be non-empty")
	}
	script := wrapPythonResult(code)
	proc, err := ca.run(ctx, ca.pythonBin, "-c", script)
	if err != nil {
		return Output{}, err
	}
	visible, result, captured := extractResultEnvelope(proc.stdout)
	out := Output{
		Text: combineOutput(visible, proc.stderr),
		Data: map[string]any{"exit_code": proc.exitCode},
	}
	if captured {
		out.Data["result"] = result
	}
	if proc.truncated {
		out.Data["truncated"] = true
	}
	if proc.exitCode != 0 {
		return out, nexuserr.Newf(nexuserr.KindInternal, "python exited with status %d", proc.exitCode)
	}
	out.Objective = objective(true)
	return out, nil
}

func (ca *codeActions) runShell(ctx context.Context, p Params) (Output, error) {
	command := p.String("command")
	if strings.TrimSpace(command) == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "run_shell: command must be non-empty")
	}
	proc, err := ca.run(ctx, ca.shellBin, "-c", command)
	if err != nil {
		return Output{}, err
	}
	out := Output{
		Text: combineOutput(proc.stdout, proc.stderr),
		Data: map[string]any{"exit_code": proc.exitCode},
	}
	if proc.truncated {
		out.Data["truncated"] = true
	}
	if proc.exitCode != 0 {
		return out, nexuserr.Newf(nexuserr.KindInternal, "command exited with status %d", proc.exitCode)
	}
	out.Objective = objective(true)
	return out, nil
}

func (ca *codeActions) runScript(ctx context.Context, p Params) (Output, error) {
	path := p.String("path")
	args := p.StringSlice("args")
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return ca.runFile(ctx, ca.pythonBin, path, args)
	case ".sh":
		return ca.runFile(ctx, ca.shellBin, path, args)
	case ".js":
		return ca.runFile(ctx, ca.nodeBin, path, args)
	case ".go":
		return ca.goScripts.RunFile(ctx, path)
	default:
		return Output{}, nexuserr.Newf(nexuserr.KindValidation, "run_script: unsupported extension %q", filepath.Ext(path))
	}
}

func (ca *codeActions) runFile(ctx context.Context, bin, path string, args []string) (Output, error) {
	argv := append([]string{path}, args...)
	proc, err := ca.run(ctx, bin, argv...)
	if err != nil {
		return Output{}, err
	}
	out := Output{
		Text: combineOutput(proc.stdout, proc.stderr),
		Data: map[string]any{"exit_code": proc.exitCode, "path": path},
	}
	if proc.truncated {
		out.Data["truncated"] = true
	}
	if proc.exitCode != 0 {
		return out, nexuserr.Newf(nexuserr.KindInternal, "%s exited with status %d", filepath.Base(bin), proc.exitCode)
	}
	out.Objective = objective(true)
	return out, nil
}

type processResult struct {
	stdout    string
	stderr    string
	exitCode  int
	truncated bool
}

func (ca *codeActions) run(ctx context.Context, bin string, args ...string) (processResult, error) {
	return runProcess(ctx, ca.workDir, ca.outputCap, bin, args...)
}

// runProcess executes bin with args, capping captured output. A non-zero exit
// is reported through exitCode, not an error; errors mean the process could
// not run or was killed at the deadline.
func runProcess(ctx context.Context, dir string, outputCap int, bin string, args ...string) (processResult, error) {
	if outputCap <= 0 {
		outputCap = defaultProcessOutputCap
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: outputCap}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: outputCap}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	runErr := cmd.Run()
	res := processResult{
		stdout:    stdoutBuf.String(),
		stderr:    stderrBuf.String(),
		truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}
	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return res, nexuserr.Wrap(nexuserr.KindTimeout, "process killed at deadline", runErr)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, nexuserr.Wrap(nexuserr.KindInternal, fmt.Sprintf("start %s", bin), runErr)
	}
	return res, nil
}

// wrapPythonResult appends the envelope trailer. A script without a `result`
// variable just skips the markers.
func wrapPythonResult(code string) string {
	var b strings.Builder
	b.WriteString(code)
	b.WriteString("\n\ntry:\n")
	b.WriteString("    import json as _nexus_json\n")
	b.WriteString(fmt.Sprintf("    print(%q)\n", ResultBegin))
	b.WriteString("    print(_nexus_json.dumps(result, default=str))\n")
	b.WriteString(fmt.Sprintf("    print(%q)\n", ResultEnd))
	b.WriteString("except NameError:\n")
	b.WriteString("    pass\n")
	return b.String()
}

// extractResultEnvelope strips the marker block from stdout and decodes the
// JSON between the markers. Malformed payloads leave the raw text in place.
func extractResultEnvelope(stdout string) (visible string, result any, captured bool) {
	begin := strings.Index(stdout, ResultBegin)
	if begin == -1 {
		return stdout, nil, false
	}
	end := strings.Index(stdout[begin:], ResultEnd)
	if end == -1 {
		return stdout, nil, false
	}
	end += begin
	payload := stdout[begin+len(ResultBegin) : end]
	payload = strings.TrimSpace(payload)
	rest := stdout[:begin] + stdout[end+len(ResultEnd):]
	rest = strings.TrimRight(rest, "\n")
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return stdout, nil, false
	}
	return rest, decoded, true
}

func combineOutput(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return "--- stderr ---\n" + stderr
	}
	return stdout + "\n--- stderr ---\n" + stderr
}

// limitedWriter keeps at most max bytes, counting what it discarded.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int
	truncated bool
	discarded int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.w.Len()
	if remaining <= 0 {
		lw.truncated = true
		lw.discarded += len(p)
		return len(p), nil
	}
	if len(p) > remaining {
		lw.truncated = true
		lw.discarded += len(p) - remaining
		lw.w.Write(p[:remaining])
		return len(p), nil
	}
	return lw.w.Write(p)
}
