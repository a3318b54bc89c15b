// Package nsexec runs host commands, optionally inside a node's
// network namespace and/or a helper process's mount namespace. It
// wraps the iproute2/util-linux binaries (ip, nsenter) that the rest
// of the system treats as given primitives.
package nsexec

import (
	"Netlab/api"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Result is the outcome of a command that actually ran. A non-zero
// ExitCode is normal data, not an error: "the command ran and failed"
// is distinct from "the command could not be run".
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner abstracts command execution so the orchestration layers can
// be unit-tested without root or real namespaces.
type Runner interface {
	// Run executes command with sh -c on the host.
	Run(command string) (Result, error)
	// RunInNS executes command inside the named network namespace.
	RunInNS(nsName, command string) (Result, error)
	// RunInHelper executes command inside the mount and network
	// namespaces of the helper process pid.
	RunInHelper(pid int, command string) (Result, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) Run(command string) (Result, error) {
	return r.exec("sh", "-c", command)
}

func (r *OSRunner) RunInNS(nsName, command string) (Result, error) {
	// Fail fast with a typed error when the namespace is gone, rather
	// than surfacing iproute2's text through the result.
	if _, err := os.Stat("/run/netns/" + nsName); err != nil {
		return Result{}, fmt.Errorf("%w: namespace %q: %v", api.ErrNamespaceSwitch, nsName, err)
	}
	return r.exec("ip", "netns", "exec", nsName, "sh", "-c", command)
}

func (r *OSRunner) RunInHelper(pid int, command string) (Result, error) {
	if err := CheckAlive(pid); err != nil {
		return Result{}, fmt.Errorf("%w: mount helper pid %d: %v", api.ErrNamespaceSwitch, pid, err)
	}
	return r.exec("nsenter", "-t", strconv.Itoa(pid), "-m", "-n", "sh", "-c", command)
}

func (r *OSRunner) exec(name string, args ...string) (Result, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return res, fmt.Errorf("%w: %s", api.ErrCommandNotFound, name)
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}

// CheckAlive reports whether pid still exists (signal 0 probe).
func CheckAlive(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.Signal(0))
}

// Output joins stdout and stderr the way an interactive session shows
// them, trailing newline trimmed.
func (r Result) Output() string {
	return strings.TrimRight(r.Stdout+r.Stderr, "\n")
}
