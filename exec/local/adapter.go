// Package local runs submitted code with the host's quickjs and python
// interpreters. Files are staged into a throwaway directory per run; limits
// come from the execution settings and are enforced before and around the
// spawned process.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	goversion "github.com/hashicorp/go-version"

	"github.com/capra-ai/capra/exec"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/platform/logger"
	"github.com/capra-ai/capra/streams"
)

func init() {
	exec.Register("local", New)
}

type Adapter struct {
	settings conf.ExecSettings

	// required is the minimum acceptable Python interpreter version.
	required *goversion.Version

	// sem caps concurrent child processes at MaxProcesses.
	sem chan struct{}

	probeOnce sync.Once
	probed    *goversion.Version
	probeErr  error
}

func New(deps exec.Deps) (exec.Provider, error) {
	settings, err := deps.Conf.Exec(deps.Override)
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		settings: settings,
		sem:      make(chan struct{}, settings.MaxProcesses),
	}
	if v := settings.Python.Version; v != "" {
		required, err := goversion.NewVersion(v)
		if err != nil {
			return nil, fault.Invalid("malformed %s %q: %v", conf.EnvExecPythonVersion, v, err)
		}
		a.required = required
	}
	return a, nil
}

func (a *Adapter) Name() string { return "local" }

func (a *Adapter) Run(ctx context.Context, req exec.RunRequest) (*exec.RunResult, error) {
	dir, cleanup, err := a.stage(req)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	entry, err := exec.EntryPoint(req)
	if err != nil {
		return nil, err
	}
	return a.runIn(ctx, dir, req, entry)
}

func (a *Adapter) RunStreaming(ctx context.Context, req exec.RunRequest) (*streams.Buffer, error) {
	dir, cleanup, err := a.stage(req)
	if err != nil {
		return nil, err
	}
	entry, err := exec.EntryPoint(req)
	if err != nil {
		cleanup()
		return nil, err
	}
	buf, err := a.streamIn(ctx, dir, req, entry, cleanup)
	if err != nil {
		cleanup()
		return nil, err
	}
	return buf, nil
}

// stage validates the file set and writes it into a fresh directory.
func (a *Adapter) stage(req exec.RunRequest) (string, func(), error) {
	if err := exec.ValidateFiles(req.Files, a.settings.MaxFileSizeBytes); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp("", "capra-exec-")
	if err != nil {
		return "", nil, fault.Wrap(fault.KindInternal, err, "create execution directory")
	}
	if err := writeFiles(dir, req.Files); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func writeFiles(dir string, files []exec.File) error {
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fault.Wrap(fault.KindInternal, err, "create directory for %s", f.Name)
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return fault.Wrap(fault.KindInternal, err, "write %s", f.Name)
		}
	}
	return nil
}

func (a *Adapter) runIn(ctx context.Context, dir string, req exec.RunRequest, entry string) (*exec.RunResult, error) {
	exe, args, err := a.argv(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, a.settings.Timeout)
	defer cancel()
	cmd := osexec.CommandContext(runCtx, exe, args...)
	cmd.Dir = dir
	cmd.Env = environFor(req.Env)
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if a.settings.Debug {
		logger.Debug(fmt.Sprintf("exec: %s %s", exe, strings.Join(args, " ")))
	}
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fault.Timeout("execution exceeded %s", a.settings.Timeout)
	}
	result := &exec.RunResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: elapsed,
	}
	if runErr != nil {
		var exitErr *osexec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fault.Wrap(fault.KindInternal, runErr, "spawn %s", exe)
	}
	return result, nil
}

// streamIn starts the process and pumps stdout and stderr chunks into the
// returned buffer. cleanup runs after the process exits.
func (a *Adapter) streamIn(ctx context.Context, dir string, req exec.RunRequest, entry string, cleanup func()) (*streams.Buffer, error) {
	exe, args, err := a.argv(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, a.settings.Timeout)
	fail := func(err error) (*streams.Buffer, error) {
		release()
		cancel()
		return nil, fault.Wrap(fault.KindInternal, err, "spawn %s", exe)
	}
	cmd := osexec.CommandContext(runCtx, exe, args...)
	cmd.Dir = dir
	cmd.Env = environFor(req.Env)
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(err)
	}
	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	buf := streams.NewBuffer(streams.WithCloser(cancel))
	start := time.Now()
	go func() {
		defer release()
		defer cleanup()
		defer cancel()
		a.pumpProcess(runCtx, cmd, exe, stdout, stderr, buf, start)
	}()
	return buf, nil
}

func (a *Adapter) pumpProcess(runCtx context.Context, cmd *osexec.Cmd, exe string, stdout, stderr io.Reader, buf *streams.Buffer, start time.Time) {
	var wg sync.WaitGroup
	var outAll, errAll []byte
	wg.Add(2)
	go func() {
		defer wg.Done()
		outAll = pump(stdout, streams.ContentStdout, buf)
	}()
	go func() {
		defer wg.Done()
		errAll = pump(stderr, streams.ContentStderr, buf)
	}()
	wg.Wait()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		buf.Push(streams.FailureEvent(fault.Timeout("execution exceeded %s", a.settings.Timeout)))
		return
	}
	result := exec.RunResult{Stdout: outAll, Stderr: errAll, Duration: elapsed}
	if waitErr != nil {
		var exitErr *osexec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			buf.Push(streams.FailureEvent(fault.Wrap(fault.KindInternal, waitErr, "wait for %s", exe)))
			return
		}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		buf.Push(streams.FailureEvent(fault.Wrap(fault.KindInternal, err, "encode run result")))
		return
	}
	buf.Push(streams.Event{
		Type:   streams.EventFinish,
		Finish: &streams.Finish{Reason: streams.FinishStop, Extra: raw},
	})
}

// pump forwards reads as chunk events and returns the accumulated bytes.
func pump(r io.Reader, typ streams.ContentType, buf *streams.Buffer) []byte {
	var all []byte
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c := make([]byte, n)
			copy(c, chunk[:n])
			all = append(all, c...)
			buf.Push(streams.DeltaEvent(streams.BytesPart(typ, c)))
		}
		if err != nil {
			return all
		}
	}
}

// argv builds the interpreter invocation for the request.
func (a *Adapter) argv(ctx context.Context, req exec.RunRequest, entry string) (string, []string, error) {
	switch req.Language {
	case exec.LanguageJavaScript:
		exe := a.settings.JS.Executable
		if a.settings.JS.QuickJSPath != "" {
			exe = a.settings.JS.QuickJSPath
		}
		var args []string
		// Engine flags are understood by qjs only; a drop-in interpreter
		// override gets the bare entry point.
		if isQuickJS(exe, a.settings.JS.QuickJSPath != "") {
			if a.settings.JS.EnableModules {
				args = append(args, "-m")
			}
			if a.settings.JS.EnableBigInt {
				args = append(args, "--bigint")
			}
			args = append(args, "--memory-limit", strconv.FormatInt(a.settings.MemoryLimitMB<<20, 10))
		}
		args = append(args, entry)
		return exe, append(args, req.Args...), nil
	case exec.LanguagePython:
		if err := a.checkPython(ctx); err != nil {
			return "", nil, err
		}
		exe := a.settings.Python.Executable
		if a.settings.Python.WASIPath != "" {
			exe = a.settings.Python.WASIPath
		}
		var args []string
		if a.settings.Python.EnableOptimization {
			args = append(args, "-O")
		}
		args = append(args, entry)
		return exe, append(args, req.Args...), nil
	default:
		return "", nil, fault.Invalid("unsupported language %q", req.Language)
	}
}

func isQuickJS(exe string, forced bool) bool {
	return forced || strings.HasPrefix(filepath.Base(exe), "qjs")
}

// checkPython probes the interpreter version once and gates runs on the
// configured minimum.
func (a *Adapter) checkPython(ctx context.Context) error {
	if a.required == nil {
		return nil
	}
	a.probeOnce.Do(func() {
		exe := a.settings.Python.Executable
		out, err := osexec.CommandContext(ctx, exe, "--version").CombinedOutput()
		if err != nil {
			a.probeErr = fault.Wrap(fault.KindInternal, err, "probe %s version", exe)
			return
		}
		fields := strings.Fields(string(out))
		if len(fields) == 0 {
			a.probeErr = fault.Internal("%s --version produced no output", exe)
			return
		}
		v, err := goversion.NewVersion(fields[len(fields)-1])
		if err != nil {
			a.probeErr = fault.Wrap(fault.KindInternal, err, "parse %s version %q", exe, fields[len(fields)-1])
			return
		}
		a.probed = v
	})
	if a.probeErr != nil {
		return a.probeErr
	}
	if a.probed.LessThan(a.required) {
		return fault.Validation(fmt.Sprintf(
			"python %s is older than required %s", a.probed, a.required))
	}
	return nil
}

func (a *Adapter) acquire(ctx context.Context) (func(), error) {
	select {
	case a.sem <- struct{}{}:
		return func() { <-a.sem }, nil
	case <-ctx.Done():
		return nil, fault.Timeout("waiting for an execution slot")
	}
}

// environFor builds the child environment: PATH from the host plus the
// request's variables, nothing else.
func environFor(env map[string]string) []string {
	out := []string{"PATH=" + os.Getenv("PATH")}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
