package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

// Output returns trimmed stdout.
func (r Result) Output() string { return strings.TrimSpace(string(r.Stdout)) }

var ErrTimeout = errors.New("command timed out")

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.Code, msg)
}

// Runner executes one external command. Implementations must honor ctx.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands directly (no shell) bounded by Timeout.
type Exec struct {
	Timeout time.Duration
	// Env replaces the process environment when non-empty.
	Env []string
}

func (e Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return run(ctx, timeout, e.Env, name, args...)
}

// Run keeps the plain function form for one-off calls.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	return run(ctx, timeout, nil, name, args...)
}

// Check runs the command and turns a non-zero exit into *ExitError.
func Check(ctx context.Context, r Runner, name string, args ...string) (Result, error) {
	res, err := r.Run(ctx, name, args...)
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return res, &ExitError{Name: name, Code: res.Code, Stderr: string(res.Stderr)}
		}
		return res, err
	}
	if res.Code != 0 {
		return res, &ExitError{Name: name, Code: res.Code, Stderr: string(res.Stderr)}
	}
	return res, nil
}

func run(ctx context.Context, timeout time.Duration, env []string, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	if len(env) > 0 {
		cmd.Env = env
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if cctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	return res, err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
