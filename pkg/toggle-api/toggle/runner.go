package toggle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrExternalTimeout is returned when the toggle executable did not finish in time.
	ErrExternalTimeout = errors.New("toggle timed out")
	// ErrExternalFailure is returned when the toggle executable failed.
	ErrExternalFailure = errors.New("toggle failed")
	// ErrMalformedResponse is returned when the toggle output is not a toggle result.
	ErrMalformedResponse = errors.New("invalid toggle response")
)

// Runner runs the external toggle operation for one subnet and returns its stdout.
// A failed run may still return output.
type Runner interface {
	Run(ctx context.Context, subnet int) ([]byte, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, subnet int) ([]byte, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, subnet int) ([]byte, error) {
	return f(ctx, subnet)
}

// waitDelay bounds how long Run waits for the pipes after the process is killed.
const waitDelay = 2 * time.Second

// ScriptRunner runs `<interpreter> <script> <subnet>`, or `<script> <subnet>`
// when no interpreter is set.
type ScriptRunner struct {
	Interpreter string
	Script      string
}

// NewScriptRunner returns a ScriptRunner.
func NewScriptRunner(interpreter, script string) *ScriptRunner {
	return &ScriptRunner{Interpreter: interpreter, Script: script}
}

// Run implements Runner. ctx carries the hard timeout; on expiry the process
// is killed and ErrExternalTimeout is returned.
func (r *ScriptRunner) Run(ctx context.Context, subnet int) ([]byte, error) {
	name, args := r.Script, []string{strconv.Itoa(subnet)}
	if r.Interpreter != "" {
		name, args = r.Interpreter, append([]string{r.Script}, args...)
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.Bytes(), ErrExternalTimeout
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%w: %v: %s", ErrExternalFailure, err, lastLine(msg))
		}
		return stdout.Bytes(), fmt.Errorf("%w: %v", ErrExternalFailure, err)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
