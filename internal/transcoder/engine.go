package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"audio-extractor/internal/status"
)

// DefaultBinary is the transcoder looked up on PATH when none is configured.
const DefaultBinary = "ffmpeg"

// ErrInstallFailed means the transcoder is still missing after the install
// step ran.
var ErrInstallFailed = errors.New("ffmpeg installation failed")

// Tool tracks whether the transcoder binary can be executed and installs it
// through the platform package manager when it cannot.
// Availability is re-checked on every call since an install may change it.
type Tool struct {
	binary     string
	installCmd []string
	runner     Runner
	reporter   status.Reporter
	lookPath   func(string) (string, error)

	// serializes installs so concurrent callers do not run the package
	// manager twice
	installMu sync.Mutex
}

// NewTool creates a Tool for binary. installCmd is the full command line of
// the install step; an empty command makes EnsureAvailable fail fast.
func NewTool(binary string, installCmd []string, runner Runner, reporter status.Reporter) *Tool {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Tool{
		binary:     binary,
		installCmd: installCmd,
		runner:     runner,
		reporter:   reporter,
		lookPath:   exec.LookPath,
	}
}

// SetLookPath replaces the PATH resolver.
func (t *Tool) SetLookPath(fn func(string) (string, error)) {
	t.lookPath = fn
}

// Binary returns the configured binary name or path.
func (t *Tool) Binary() string {
	return t.binary
}

// Path resolves the binary on the execution search path.
func (t *Tool) Path() (string, error) {
	path, err := t.lookPath(t.binary)
	if err != nil {
		return "", fmt.Errorf("%s binary not found: %w", t.binary, err)
	}
	return path, nil
}

// IsAvailable reports whether the binary resolves right now.
func (t *Tool) IsAvailable() bool {
	_, err := t.Path()
	return err == nil
}

// EnsureAvailable installs the transcoder if it is missing and checks again.
// It returns an error wrapping ErrInstallFailed when the binary still cannot
// be found afterwards.
func (t *Tool) EnsureAvailable(ctx context.Context) error {
	if t.IsAvailable() {
		return nil
	}

	t.installMu.Lock()
	defer t.installMu.Unlock()

	// another caller may have finished the install while we waited
	if t.IsAvailable() {
		return nil
	}

	if len(t.installCmd) == 0 {
		t.reporter.Append("Error: FFmpeg not found and no install command is known for " + runtime.GOOS + ".")
		return fmt.Errorf("%w: no install command for %s", ErrInstallFailed, runtime.GOOS)
	}

	t.reporter.Append("FFmpeg not found. Installing FFmpeg...")
	output, runErr := t.runner.Run(ctx, t.installCmd[0], t.installCmd[1:]...)

	if !t.IsAvailable() {
		t.reporter.Append("Error: FFmpeg installation failed.")
		detail := tail(output, diagnosticTailLines)
		if runErr != nil {
			detail = strings.TrimSpace(runErr.Error() + "\n" + detail)
		}
		if detail == "" {
			detail = t.binary + " still not on PATH"
		}
		return fmt.Errorf("%w: %s", ErrInstallFailed, detail)
	}

	t.reporter.Append("FFmpeg installation complete.")
	return nil
}

// DefaultInstallCommand picks the package-manager invocation for goos.
// On Linux the first package manager found on PATH wins. It returns nil
// when no known installer is present.
func DefaultInstallCommand(goos string, lookPath func(string) (string, error)) []string {
	switch goos {
	case "windows":
		return []string{"winget", "install", "ffmpeg"}
	case "darwin":
		return []string{"brew", "install", "ffmpeg"}
	case "linux":
		candidates := [][]string{
			{"apt-get", "install", "-y", "ffmpeg"},
			{"dnf", "install", "-y", "ffmpeg"},
			{"pacman", "-S", "--noconfirm", "ffmpeg"},
		}
		for _, c := range candidates {
			if _, err := lookPath(c[0]); err == nil {
				return c
			}
		}
	}
	return nil
}
