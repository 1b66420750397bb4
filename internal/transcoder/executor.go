package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external program to completion and returns everything
// it wrote to stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	// Debug logs the PID and arguments of every process started.
	Debug bool
}

// Run starts the program and waits for it. A program that cannot be found
// fails at Start with an *exec.Error.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if r.Debug {
		log.Printf("[Executor] %s started with PID: %d args=%q", filepath.Base(name), cmd.Process.Pid, args)
	}

	if err := cmd.Wait(); err != nil {
		return out.Bytes(), fmt.Errorf("%s execution failed: %w", filepath.Base(name), err)
	}
	return out.Bytes(), nil
}

// diagnosticTailLines bounds how much captured output is carried in a failure.
const diagnosticTailLines = 20

// ProcessError reports a transcode invocation that left no output file.
// Diagnostic holds the tail of the captured process output.
type ProcessError struct {
	Diagnostic string
	Err        error
}

func (e *ProcessError) Error() string {
	msg := "no output file produced"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// tail keeps the last n non-empty lines of process output.
func tail(output []byte, n int) string {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
